package model

import "strings"

// evalRule is the one predicate language the workflow needs: a
// comma-separated list of "exclude:" clauses matched against the
// candidate's title or uploader id. Anything else in Expr is ignored,
// leaving room for a richer grammar without touching callers.
func evalRule(expr string, v *Video) bool {
	if expr == "" {
		return true
	}
	for _, clause := range strings.Split(expr, ",") {
		clause = strings.TrimSpace(clause)
		rest, ok := strings.CutPrefix(clause, "exclude:")
		if !ok {
			continue
		}
		needle := strings.TrimSpace(rest)
		if needle == "" {
			continue
		}
		if needle == v.UpperID {
			return false
		}
		if strings.Contains(v.Name, needle) {
			return false
		}
	}
	return true
}
