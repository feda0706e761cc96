package utils

import (
	"regexp"
)

// CompileScopePattern compiles a site's scope pattern.
// An empty or invalid pattern is a configuration error.
func CompileScopePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, WrapErrorf(ErrConfigValidation, "scope pattern is empty")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, WrapErrorf(ErrConfigValidation, "invalid scope pattern '%s' (%v)", pattern, err)
	}
	return re, nil
}
