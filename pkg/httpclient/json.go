package httpclient

import (
	"bytes"
	"io"

	"github.com/segmentio/encoding/json"
)

// encodeJSON and decodeJSON centralize JSON (de)serialization on
// segmentio/encoding/json, the faster drop-in encoding/json replacement
// used elsewhere in the module (pkg/cache, pkg/downloader, pkg/plugins).
func encodeJSON(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func decodeJSON(r io.Reader, v any) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
