package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"herenow/pkg/config"
	apperrors "herenow/pkg/errors"
)

func ExtractLimitOffset(r *http.Request) (int, int64, error) {
	query := r.URL.Query()

	limit := 0
	if s := query.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, 0, apperrors.InvalidInput("invalid limit parameter: " + s)
		}
		limit = v
	}

	var offset int64 = 0
	if s := query.Get("offset"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, apperrors.InvalidInput("invalid offset parameter: " + s)
		}
		offset = v
	}

	return config.NormalizePaginationLimit(limit), max(0, offset), nil
}

// DecodeJSON reads a single JSON object from the request body. Unknown fields
// are rejected so that typos in client payloads surface as INVALID_INPUT.
func DecodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.InvalidInput("Request body is required")
		}
		return apperrors.InvalidInput("Invalid JSON format")
	}
	return nil
}
