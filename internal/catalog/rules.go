package catalog

// Query is the Rego query the catalog evaluates. A rules file must define
// the same rule.
const Query = "data.netmap.packages.eligible"

// DefaultRules decides eligibility when no rules file is configured. An
// empty restriction list matches every value.
const DefaultRules = `
package netmap.packages

import rego.v1

eligible contains pkg.id if {
	some pkg in input.packages
	pkg.active
	allows(object.get(pkg, "customer_types", []), input.customer_type)
	allows(object.get(pkg, "zone_types", []), input.zone.zone_type)
	allows(object.get(pkg, "tenants", []), input.tenant)
}

allows(list, _) if count(list) == 0

allows(list, value) if value in list
`
