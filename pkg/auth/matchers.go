package auth

import (
	"github.com/rotisserie/eris"
	"github.com/zpatrick/rbac"
)

type Bag struct{}

// ReportBag identifies the report a permission check applies to
type ReportBag struct {
	Bag
	Kind string
}

var reportKinds = map[string]bool{
	"revenue":   true,
	"dashboard": true,
}

// knownReportKind limits report permissions to the workbooks this service
// actually produces
func knownReportKind() rbac.Matcher {
	return func(target string) (bool, error) {
		bag := ReportBag{}
		if err := UnmarshalBag(target, &bag); err != nil {
			return false, eris.Wrapf(err, "failed to parse target")
		}

		return reportKinds[bag.Kind], nil
	}
}
