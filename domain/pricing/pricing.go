// Package pricing provides pure credit pricing rules.
package pricing

// Config controls how converted pages translate into credits.
type Config struct {
	CreditsPerPage        int64
	MinCreditsPerDocument int64
}

// DefaultConfig returns the standard pricing configuration.
func DefaultConfig() Config {
	return Config{
		CreditsPerPage:        1,
		MinCreditsPerDocument: 1,
	}
}

// Charge computes the credit charge for a conversion request.
// successfulDocs is the number of documents the backend converted
// successfully, pages the sum of their page counts. A request where every
// document failed charges nothing; otherwise the charge is at least the
// configured minimum. This is a PURE function.
func Charge(successfulDocs int, pages int64, cfg Config) int64 {
	if successfulDocs == 0 {
		return 0
	}
	charge := pages * cfg.CreditsPerPage
	if charge < cfg.MinCreditsPerDocument {
		charge = cfg.MinCreditsPerDocument
	}
	return charge
}

// Package is a purchasable credit bundle.
type Package struct {
	ID         string
	Name       string
	Credits    int64
	PriceCents int64
}

// Credit packages offered at checkout.
var packages = []Package{
	{ID: "starter", Name: "Starter Pack", Credits: 100, PriceCents: 1500},
	{ID: "professional", Name: "Professional Pack", Credits: 1000, PriceCents: 10000},
	{ID: "business", Name: "Business Pack", Credits: 5000, PriceCents: 40000},
}

// Packages returns all purchasable credit packages.
func Packages() []Package {
	out := make([]Package, len(packages))
	copy(out, packages)
	return out
}

// LookupPackage returns the package with the given id.
func LookupPackage(id string) (Package, bool) {
	for _, p := range packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}
