// Package expr implements the restricted boolean grammar used by workflow
// condition steps.
//
// The grammar covers logical operators (||, &&, !), comparisons
// (==, !=, >, <, >=, <=), parentheses, numbers, quoted strings, the literals
// true and false, and identifiers resolved against a variable map using dot
// paths. There are no function calls and no arithmetic.
//
// Templates may reference context values with ${key} placeholders, which are
// substituted before evaluation:
//
//	ok := expr.EvaluateTemplate("${score} > 50 && '${tier}' == 'gold'", vars)
package expr
