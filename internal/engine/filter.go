package engine

import (
	"strconv"
	"strings"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

// ApplyFilterAction returns a copy of target with action appended to its filter text.
// AddFilter appends an inclusion clause (key=value), AddFilterOut an exclusion clause
// (key!=value). Actions without a key or value leave the filter text unchanged.
func ApplyFilterAction(target model.QueryTarget, action model.FilterAction) model.QueryTarget {
	if action.Key == "" || action.Value == "" {
		return target
	}

	var clause string
	switch action.Type {
	case model.AddFilter:
		clause = action.Key + "=" + quoteValue(action.Value)
	case model.AddFilterOut:
		clause = action.Key + "!=" + quoteValue(action.Value)
	default:
		return target
	}

	if target.FilterText == "" {
		target.FilterText = clause
	} else {
		target.FilterText = target.FilterText + " " + clause
	}
	return target
}

// quoteValue quotes values that would not survive NanoQL tokenization as a bare identifier.
func quoteValue(v string) string {
	switch strings.ToUpper(v) {
	case "AND", "OR", "NOT":
		return strconv.Quote(v)
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		isIdent := c == '_' || c == '-' || c == '.' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isIdent {
			return strconv.Quote(v)
		}
	}
	return v
}
