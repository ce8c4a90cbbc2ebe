package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/chartlydata/payee-match/internal/canon"
	"github.com/chartlydata/payee-match/internal/errs"
	"github.com/chartlydata/payee-match/internal/registry"
)

// ingestRow is one payee as accepted by both the JSON and CSV ingest
// endpoints (§6).
type ingestRow struct {
	PayeeID int64  `json:"payee_id,omitempty"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

type ingestRequest struct {
	Payees []ingestRow `json:"payees"`
}

type ingestError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type ingestResponse struct {
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Errors   []ingestError `json:"errors"`
	Success  bool          `json:"success"`
}

func (api *API) handleIngest(w http.ResponseWriter, req *http.Request) {
	var in ingestRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, req.Context(), errs.New(errs.IngestSchemaInvalid, errs.ErrInvalidInput))
		return
	}
	out := api.ingestRows(req, in.Payees)
	writeJSON(w, http.StatusOK, out)
}

// handleIngestCSV accepts a multipart upload whose header row carries any
// of the accepted column-name spellings in §6. Each parsed row is ingested
// in isolation: a row that fails canonicalization or storage is collected
// in errors[] and the remaining rows still commit. Rows with an empty name
// are skipped without an error entry, and a CSV read error (for example a
// row with the wrong number of fields) rejects the whole upload with 400.
func (api *API) handleIngestCSV(w http.ResponseWriter, req *http.Request) {
	file, _, err := req.FormFile("file")
	if err != nil {
		writeError(w, req.Context(), errs.New(errs.IngestSchemaInvalid, errs.ErrInvalidInput))
		return
	}
	defer file.Close()

	rows, parseErr := parseIngestCSV(file)
	if parseErr != nil {
		writeError(w, req.Context(), errs.New(errs.IngestSchemaInvalid, parseErr))
		return
	}
	out := api.ingestRows(req, rows)
	writeJSON(w, http.StatusOK, out)
}

func (api *API) ingestRows(req *http.Request, rows []ingestRow) ingestResponse {
	var out ingestResponse
	out.Errors = make([]ingestError, 0)
	for _, row := range rows {
		inserted, err := api.ingestOne(req, row)
		if err != nil {
			out.Errors = append(out.Errors, ingestError{Name: row.Name, Error: err.Error()})
			continue
		}
		if inserted {
			out.Inserted++
		} else {
			out.Updated++
		}
	}
	out.Success = len(out.Errors) == 0
	return out
}

func (api *API) ingestOne(req *http.Request, row ingestRow) (bool, error) {
	c := canon.Canonicalize(row.Name)
	if c.Empty() {
		return false, errs.ErrEmptyCanonical
	}

	p := registry.Payee{
		ExternalID: strconv.FormatInt(row.PayeeID, 10),
		NameRaw:    row.Name,
		NameCanon:  c.Canon,
		NameTokens: c.Tokens,
		DMCodes:    c.DMCodes,
		Address:    row.Address,
		City:       row.City,
		State:      row.State,
		Zip:        row.ZipCode,
		Country:    row.Country,
	}
	if row.PayeeID == 0 {
		p.ExternalID = ""
	}

	if api.Pipeline != nil && api.Pipeline.Embedder != nil && api.Pipeline.EmbedProv != nil {
		if vec, err := api.Pipeline.Embedder.Embed(req.Context(), api.Pipeline.EmbedProv, c.Canon); err == nil {
			p.NameVec = vec
		}
	}

	return api.Store.Upsert(req.Context(), p)
}

// ingestColumns maps every accepted header spelling to its canonical
// field, per §6: "payee_id, name|supplier_name|payee_name, address, city,
// state, zip_code|zip, country".
var ingestColumns = map[string]string{
	"payee_id":      "payee_id",
	"name":          "name",
	"supplier_name": "name",
	"payee_name":    "name",
	"address":       "address",
	"city":          "city",
	"state":         "state",
	"zip_code":      "zip_code",
	"zip":           "zip_code",
	"country":       "country",
}

func parseIngestCSV(f multipart.File) ([]ingestRow, error) {
	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fieldAt := make(map[int]string, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if field, ok := ingestColumns[key]; ok {
			fieldAt[i] = field
		}
	}

	var rows []ingestRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := rowFromRecord(rec, fieldAt)
		if row.Name != "" {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func rowFromRecord(rec []string, fieldAt map[int]string) ingestRow {
	var row ingestRow
	for i, v := range rec {
		v = strings.TrimSpace(v)
		switch fieldAt[i] {
		case "payee_id":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				row.PayeeID = n
			}
		case "name":
			row.Name = v
		case "address":
			row.Address = v
		case "city":
			row.City = v
		case "state":
			row.State = v
		case "zip_code":
			row.ZipCode = v
		case "country":
			row.Country = v
		}
	}
	return row
}
