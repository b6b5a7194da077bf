package callbacks

import (
	"fmt"
	"strconv"
)

// ParamAt returns the i-th parameter or an error when it is missing.
func ParamAt(params []string, i int) (string, error) {
	if i < 0 || i >= len(params) {
		return "", fmt.Errorf("callbacks: param %d out of range (have %d)", i, len(params))
	}
	return params[i], nil
}

// ParamInt64 parses the i-th parameter as int64.
func ParamInt64(params []string, i int) (int64, error) {
	p, err := ParamAt(params, i)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(p, 10, 64)
}

// ParamInt parses the i-th parameter as int.
func ParamInt(params []string, i int) (int, error) {
	p, err := ParamAt(params, i)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// ParamFloat64 parses the i-th parameter as float64.
func ParamFloat64(params []string, i int) (float64, error) {
	p, err := ParamAt(params, i)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(p, 64)
}
