package source

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

const demoPolicyLimit = 1000

var (
	demoCategories = []string{"Travel", "Meals", "Lodging", "Software", "Office Supplies"}
	demoVendors    = []string{"Uber", "Delta", "Hilton", "AWS", "Staples", "WeWork", "Starbucks"}
	demoLocations  = []string{"London", "New York", "Seattle", "Remote", "Tokyo"}
)

// DemoSource generates a synthetic expense-invoice corpus on the fly.
// Roughly 5% of invoices exceed the $1000 policy limit and carry a
// VIOLATION marker in their filename, which makes audit demo queries
// verifiable. Generation is seeded, so the same seed always produces the
// same corpus.
type DemoSource struct {
	count int
	seed  int64
}

func NewDemoSource(count int, seed int64) *DemoSource {
	if count <= 0 {
		count = 2000
	}
	return &DemoSource{count: count, seed: seed}
}

var _ ports.DocumentSource = (*DemoSource)(nil)

func (s *DemoSource) Count(ctx context.Context) (int, error) {
	return s.count, nil
}

func (s *DemoSource) FetchBatch(ctx context.Context, offset, size int) ([]domain.RawDocument, error) {
	if offset >= s.count {
		return nil, nil
	}
	end := offset + size
	if end > s.count {
		end = s.count
	}

	batch := make([]domain.RawDocument, 0, end-offset)
	for i := offset; i < end; i++ {
		batch = append(batch, s.invoice(i))
	}
	return batch, nil
}

// invoice derives one document from the seed and its index, so any batch can
// be regenerated independently of fetch order.
func (s *DemoSource) invoice(i int) domain.RawDocument {
	rng := rand.New(rand.NewSource(s.seed + int64(i)))

	date := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -rng.Intn(365))
	category := demoCategories[rng.Intn(len(demoCategories))]
	vendor := demoVendors[rng.Intn(len(demoVendors))]
	location := demoLocations[rng.Intn(len(demoLocations))]

	var amount int
	status := "COMPLIANT"
	if rng.Float64() < 0.05 {
		amount = demoPolicyLimit + 1 + rng.Intn(4000)
		status = "VIOLATION"
	} else {
		amount = 10 + rng.Intn(990)
	}

	locator := fmt.Sprintf("Invoice_%04d_%s_%s.txt", i, vendor, status)
	content := fmt.Sprintf(`INVOICE #%04d
Date: %s
Vendor: %s
Category: %s
Location: %s
Amount: $%d.00
Description: Standard business expense for %s.
`, i, date.Format("2006-01-02"), vendor, category, location, amount, category)

	return domain.RawDocument{Locator: locator, Content: content}
}
