package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

// compileJQ parses and compiles a jq expression.
func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return code, nil
}

// toJQValue converts v into the generic form gojq operates on.
func toJQValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// runJQ returns every value code emits for v.
func runJQ(code *gojq.Code, v interface{}) ([]interface{}, error) {
	input, err := toJQValue(v)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare jq input: %w", err)
	}

	var results []interface{}
	iter := code.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := r.(error); ok {
			return nil, fmt.Errorf("jq filter error: %w", err)
		}
		results = append(results, r)
	}
	return results, nil
}

// matchesAll reports whether every filter yields a truthy first result for v.
func matchesAll(codes []*gojq.Code, v interface{}) (bool, error) {
	for _, code := range codes {
		results, err := runJQ(code, v)
		if err != nil {
			return false, err
		}
		if len(results) == 0 || !isTruthy(results[0]) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// writeJQ prints each value code emits for v, one JSON document per line.
// Bare strings are printed raw, as jq -r would.
func writeJQ(w io.Writer, code *gojq.Code, v interface{}) error {
	results, err := runJQ(code, v)
	if err != nil {
		return err
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// output writes v through the --jq filter if set, as JSON if --json is set,
// and with human otherwise.
func output(w io.Writer, jqExpr string, jsonOutput bool, v interface{}, human func(io.Writer)) error {
	if jqExpr != "" {
		code, err := compileJQ(jqExpr)
		if err != nil {
			return err
		}
		return writeJQ(w, code, v)
	}
	if jsonOutput {
		return outputJSON(w, v)
	}
	human(w)
	return nil
}
