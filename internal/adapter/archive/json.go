package archive

import (
	"io"

	"github.com/goccy/go-json"
)

func jsonDecoder(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
