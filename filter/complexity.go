package filter

import (
	"github.com/pkg/errors"
)

// ComplexityLimits defines limits for filter complexity.
// A value of 0 means no limit for that metric.
type ComplexityLimits struct {
	MaxTotalFields      int // Maximum total number of compare leaves
	MaxLogicalOperators int // Maximum number of logical operators (And/Or/Not)
	MaxLogicalDepth     int // Maximum nesting depth of logical operators
	MaxOrBranches       int // Maximum branches in a single Or operator
}

// ComplexityResult contains the calculated complexity metrics of a filter.
type ComplexityResult struct {
	TotalFields      int // Total number of compare leaves
	LogicalOperators int // Total number of logical operators
	LogicalDepth     int // Deepest logical operator nesting
	OrBranches       int // Maximum branches found in any Or operator
}

// Predefined complexity limits
var (
	// DefaultLimits provides reasonable defaults for most use cases.
	DefaultLimits = &ComplexityLimits{
		MaxTotalFields:      10,
		MaxLogicalOperators: 5,
		MaxLogicalDepth:     2,
		MaxOrBranches:       3,
	}

	// StrictLimits provides tighter limits for security-sensitive contexts.
	StrictLimits = &ComplexityLimits{
		MaxTotalFields:      5,
		MaxLogicalOperators: 3,
		MaxLogicalDepth:     1,
		MaxOrBranches:       2,
	}

	// RelaxedLimits provides looser limits for trusted/internal use.
	RelaxedLimits = &ComplexityLimits{
		MaxTotalFields:      20,
		MaxLogicalOperators: 10,
		MaxLogicalDepth:     3,
		MaxOrBranches:       5,
	}
)

// CheckComplexity validates that a filter doesn't exceed the specified limits.
// Ineffective leaves are not counted.
// If limits is nil, no validation is performed.
func CheckComplexity(expr Expression, limits *ComplexityLimits) error {
	if limits == nil {
		return nil
	}

	result := CalculateComplexity(expr)

	if limits.MaxTotalFields > 0 && result.TotalFields > limits.MaxTotalFields {
		return errors.Errorf("filter field count %d exceeds limit %d", result.TotalFields, limits.MaxTotalFields)
	}
	if limits.MaxLogicalOperators > 0 && result.LogicalOperators > limits.MaxLogicalOperators {
		return errors.Errorf("filter logical operator count %d exceeds limit %d", result.LogicalOperators, limits.MaxLogicalOperators)
	}
	if limits.MaxLogicalDepth > 0 && result.LogicalDepth > limits.MaxLogicalDepth {
		return errors.Errorf("filter logical nesting depth %d exceeds limit %d", result.LogicalDepth, limits.MaxLogicalDepth)
	}
	if limits.MaxOrBranches > 0 && result.OrBranches > limits.MaxOrBranches {
		return errors.Errorf("filter Or branches %d exceeds limit %d", result.OrBranches, limits.MaxOrBranches)
	}

	return nil
}

// CalculateComplexity analyzes a filter and returns its complexity metrics.
func CalculateComplexity(expr Expression) *ComplexityResult {
	result := &ComplexityResult{}
	calculateComplexityRecursive(Simplify(expr), 0, result)
	return result
}

func calculateComplexityRecursive(expr Expression, logicalDepth int, result *ComplexityResult) {
	if logicalDepth > result.LogicalDepth {
		result.LogicalDepth = logicalDepth
	}

	switch e := expr.(type) {
	case And:
		result.LogicalOperators++
		for _, child := range e {
			calculateComplexityRecursive(child, logicalDepth+1, result)
		}
		if logicalDepth+1 > result.LogicalDepth {
			result.LogicalDepth = logicalDepth + 1
		}
	case Or:
		result.LogicalOperators++
		if len(e) > result.OrBranches {
			result.OrBranches = len(e)
		}
		for _, child := range e {
			calculateComplexityRecursive(child, logicalDepth+1, result)
		}
		if logicalDepth+1 > result.LogicalDepth {
			result.LogicalDepth = logicalDepth + 1
		}
	case Not:
		result.LogicalOperators++
		calculateComplexityRecursive(e.Expr, logicalDepth+1, result)
	case *Compare:
		result.TotalFields++
	}
}
