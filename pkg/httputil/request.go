package httputil

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// ParsePathRef reads the {category} and {name} path parameters
func ParsePathRef(r *http.Request) (plugins.Ref, error) {
	cat, err := ParsePathString(r, "category")
	if err != nil {
		return plugins.Ref{}, err
	}
	name, err := ParsePathString(r, "name")
	if err != nil {
		return plugins.Ref{}, err
	}
	c, err := plugins.ParseCategory(cat)
	if err != nil {
		return plugins.Ref{}, err
	}
	return plugins.NewRef(c, name), nil
}

// ParsePathRefOrError extracts the ref and writes a 400 on failure
func ParsePathRefOrError(w http.ResponseWriter, r *http.Request) (plugins.Ref, bool) {
	ref, err := ParsePathRef(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return plugins.Ref{}, false
	}
	return ref, true
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryBool extracts and parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryCategories reads a comma separated (or repeated) category filter.
// An absent parameter yields nil.
func ParseQueryCategories(r *http.Request, key string) ([]plugins.Category, error) {
	var out []plugins.Category
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			c, err := plugins.ParseCategory(part)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}
