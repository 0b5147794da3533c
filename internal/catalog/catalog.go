// Package catalog decides which service packages can be sold inside a
// coverage zone.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/models"
)

// Request is the eligibility question for one coverage check.
type Request struct {
	Tenant       string
	CustomerType string
	Zone         *models.Zone
}

// Catalog evaluates package eligibility with OPA.
type Catalog struct {
	logger logging.Logger

	mu       sync.RWMutex
	packages []models.Package
	byID     map[string]models.Package
	query    rego.PreparedEvalQuery
}

// New compiles rules and returns a catalog over packages. An empty rules
// string selects DefaultRules.
func New(ctx context.Context, packages []models.Package, rules string, logger logging.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Catalog{logger: logger}
	if err := c.Reload(ctx, packages, rules); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadRules reads a Rego module from file.
func LoadRules(file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read catalog rules %s: %w", file, err)
	}
	return string(data), nil
}

// Reload swaps packages and rules atomically. The previous state is kept
// when the rules do not compile.
func (c *Catalog) Reload(ctx context.Context, packages []models.Package, rules string) error {
	if rules == "" {
		rules = DefaultRules
	}
	query, err := rego.New(
		rego.Query(Query),
		rego.Module("packages.rego", rules),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("invalid catalog rules: %w", err)
	}

	byID := make(map[string]models.Package, len(packages))
	list := make([]models.Package, 0, len(packages))
	for _, p := range packages {
		if p.ID == "" {
			return apperr.Invalid("catalog.packages.id", "is required")
		}
		if _, dup := byID[p.ID]; dup {
			return apperr.Invalid("catalog.packages.id", "duplicate package %q", p.ID)
		}
		p = normalize(p)
		byID[p.ID] = p
		list = append(list, p)
	}
	sortPackages(list)

	c.mu.Lock()
	c.packages, c.byID, c.query = list, byID, query
	c.mu.Unlock()
	c.logger.Info(ctx, "Catalog loaded", zap.Int("packages", len(list)))
	return nil
}

// Packages returns every configured package ordered by price.
func (c *Catalog) Packages() []models.Package {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Package(nil), c.packages...)
}

// Eligible returns the packages the rules allow for req, ordered by
// monthly price then id. The result is never nil.
func (c *Catalog) Eligible(ctx context.Context, req Request) ([]models.Package, error) {
	c.mu.RLock()
	packages, byID, query := c.packages, c.byID, c.query
	c.mu.RUnlock()

	out := []models.Package{}
	if req.Zone == nil || len(packages) == 0 {
		return out, nil
	}

	input := map[string]any{
		"tenant":        req.Tenant,
		"customer_type": req.CustomerType,
		"zone": map[string]any{
			"id":        req.Zone.ID,
			"name":      req.Zone.Name,
			"zone_type": req.Zone.ZoneType,
			"priority":  req.Zone.Priority,
		},
		"packages": packages,
	}
	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Unavailable("catalog eligibility", ctx.Err())
		}
		return nil, fmt.Errorf("evaluate catalog rules: %w", err)
	}

	for _, result := range rs {
		for _, expr := range result.Expressions {
			ids, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, v := range ids {
				id, ok := v.(string)
				if !ok {
					continue
				}
				if p, ok := byID[id]; ok {
					out = append(out, p)
				}
			}
		}
	}
	sortPackages(out)
	return out, nil
}

// normalize replaces nil lists so the rules never see null.
func normalize(p models.Package) models.Package {
	if p.CustomerTypes == nil {
		p.CustomerTypes = []string{}
	}
	if p.ZoneTypes == nil {
		p.ZoneTypes = []string{}
	}
	if p.Tenants == nil {
		p.Tenants = []string{}
	}
	return p
}

func sortPackages(list []models.Package) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].MonthlyPrice != list[j].MonthlyPrice {
			return list[i].MonthlyPrice < list[j].MonthlyPrice
		}
		return list[i].ID < list[j].ID
	})
}
