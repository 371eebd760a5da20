package cups

import (
	"encoding/json"
	"fmt"

	"github.com/lorafwd/stationd/httpproto"
	"github.com/lorafwd/stationd/internal/certstore"
)

// updateInfoBody is the JSON body of the POST /update-info request.
// Field order doesn't matter on the wire, unlike the original's
// hand-rolled encoder that had to emit an open brace before its first
// key; encoding/json handles that bookkeeping, so it's used here rather
// than a hand-written writer even though nothing else in the pack
// reaches for a JSON library.
type updateInfoBody struct {
	Router       string   `json:"router"`
	CupsURI      string   `json:"cupsUri"`
	TCURI        string   `json:"tcUri"`
	CupsCredCRC  uint32   `json:"cupsCredCrc"`
	TCCredCRC    uint32   `json:"tcCredCrc"`
	Station      string   `json:"station"`
	Model        string   `json:"model"`
	Package      string   `json:"package"`
	Keys         []uint32 `json:"keys"`
}

func buildUpdateInfoBody(id Identity, store *certstore.Store) []byte {
	cupsCRC, _ := store.CRC(certstore.CategoryCUPS, certstore.SetREG)
	tcCRC, _ := store.CRC(certstore.CategoryTC, certstore.SetREG)
	body := updateInfoBody{
		Router:      id.RouterEUI,
		CupsURI:     store.Slot(certstore.CategoryCUPS, certstore.SetREG).URI,
		TCURI:       store.Slot(certstore.CategoryTC, certstore.SetREG).URI,
		CupsCredCRC: cupsCRC,
		TCCredCRC:   tcCRC,
		Station:     id.Version,
		Model:       id.Model,
		Package:     id.Package,
		Keys:        id.SigKeyCRCs,
	}
	if body.Keys == nil {
		body.Keys = []uint32{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		// body fields are all plain strings/ints; marshal cannot fail
		panic(err)
	}
	return data
}

// buildUpdateInfoRequest renders the POST /update-info request line,
// headers, and JSON body into the client's write buffer and returns the
// bytes written.
func buildUpdateInfoRequest(client *httpproto.Client, body []byte) ([]byte, error) {
	head := fmt.Sprintf(
		"POST /update-info HTTP/1.1\r\nContent-Type: application/json\r\nContent-Length: %05d\r\n\r\n",
		len(body))
	total := len(head) + len(body)
	buf, err := client.GetReqBuf(total)
	if err != nil {
		return nil, err
	}
	n := copy(buf, head)
	n += copy(buf[n:], body)
	return buf[:n], nil
}
