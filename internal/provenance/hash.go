package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
)

const hashHexLen = 16

// ConfigHash hashes a canonically-serialized config: keys sorted, JSON-encoded,
// sha256, first 16 hex chars. Equal configs always hash equal regardless of
// map iteration order.
func ConfigHash(config map[string]interface{}) (string, error) {
	canonical, err := canonicalJSON(config)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:hashHexLen], nil
}

func canonicalJSON(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		var vb []byte
		switch v := m[k].(type) {
		case map[string]interface{}:
			vb, err = canonicalJSON(v)
		default:
			vb, err = json.Marshal(v)
		}
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	return append(buf, '}'), nil
}

// InputHash streams the file through xxhash64 in 8-KiB reads and returns the
// first 16 hex chars. Used to detect file drift between enqueue and inference.
func InputHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()
	return InputHashReader(f)
}

func InputHashReader(r io.Reader) (string, error) {
	h := xxhash.New()
	buf := make([]byte, 8*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	out := fmt.Sprintf("%016x", h.Sum64())
	return out[:hashHexLen], nil
}
