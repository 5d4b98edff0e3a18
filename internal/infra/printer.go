package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// PrintDocument is a rendered ticket ready for the printer driver.
type PrintDocument struct {
	EntryID int64  // print_queue id, used as idempotency key
	Kind    string // "comanda" | "preconto"
	Station string // printer routing hint (kitchen, cassa)
	PDF     []byte
}

// ── Spool printer ────────────────────────────────────────────────────────────

// SpoolPrinter drops each document into a directory watched by the
// physical printer driver. The file is written under a temporary name and
// renamed so the driver never picks up a partial file.
type SpoolPrinter struct {
	dir string
}

func NewSpoolPrinter(dir string) (*SpoolPrinter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create dir: %w", err)
	}
	return &SpoolPrinter{dir: dir}, nil
}

// Print writes <kind>_<entry>.pdf. Re-printing the same entry overwrites
// the previous file instead of producing a duplicate ticket.
func (p *SpoolPrinter) Print(ctx context.Context, doc PrintDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%d.pdf", doc.Kind, doc.EntryID)
	tmp := filepath.Join(p.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, doc.PDF, 0o644); err != nil {
		return fmt.Errorf("spool: write: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(p.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("spool: rename: %w", err)
	}
	return nil
}

// ── Print sidecar ────────────────────────────────────────────────────────────

// printResponse is returned by the printer sidecar.
type printResponse struct {
	Status  string `json:"status"` // "ok" | "error"
	Message string `json:"message"`
}

// PrintSidecarClient posts documents to the printer sidecar, which owns the
// ESC/POS connection to the physical printers.
type PrintSidecarClient struct {
	sidecarURL string
	httpClient *http.Client
}

func NewPrintSidecarClient(sidecarURL string) *PrintSidecarClient {
	return &PrintSidecarClient{
		sidecarURL: sidecarURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Print sends the PDF as the request body; routing data travels in headers.
func (c *PrintSidecarClient) Print(ctx context.Context, doc PrintDocument) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sidecarURL+"/print", bytes.NewReader(doc.PDF))
	if err != nil {
		return fmt.Errorf("sidecar: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("X-Print-Kind", doc.Kind)
	req.Header.Set("X-Print-Station", doc.Station)
	req.Header.Set("Idempotency-Key", fmt.Sprintf("print-%d", doc.EntryID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar: unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar: returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var out printResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("sidecar: decode response: %w", err)
		}
		if out.Status == "error" {
			return fmt.Errorf("sidecar: printer error: %s", out.Message)
		}
	}
	return nil
}

// Ping checks the sidecar health endpoint.
func (c *PrintSidecarClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sidecarURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar: health returned %d", resp.StatusCode)
	}
	return nil
}
