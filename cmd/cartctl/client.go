// HTTP client helpers for talking to the daemon facade.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/001Space/cartsync/internal/domain"
)

// apiEnvelope mirrors the facade's JSON response envelope.
type apiEnvelope struct {
	Data     json.RawMessage `json:"data"`
	Fallback bool            `json:"fallback"`
	Error    *apiError       `json:"error"`
}

type apiError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Items   []string `json:"items,omitempty"`
}

func (e *apiError) Error() string {
	if len(e.Items) > 0 {
		return fmt.Sprintf("%s: %s (items: %v)", e.Code, e.Message, e.Items)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// callDaemon performs an HTTP request against the facade and decodes the
// response envelope. Error responses are returned as *apiError.
func callDaemon(method, path string, body any) (*apiEnvelope, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, daemonAddr+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the cartsync daemon running at %s? %w", daemonAddr, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		return nil, env.Error
	}
	return &env, nil
}

// printCartEnvelope renders a cart response, honoring --json.
func printCartEnvelope(env *apiEnvelope) error {
	if flagJSON {
		return printRawJSON(env.Data)
	}

	var cart domain.Cart
	if err := json.Unmarshal(env.Data, &cart); err != nil {
		return fmt.Errorf("decode cart: %w", err)
	}

	if env.Fallback || cart.Source == domain.SourceLocalFallback {
		fmt.Println("note: cart backend unreachable, showing locally saved cart")
	}

	if len(cart.Items) == 0 {
		fmt.Println("cart is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM ID\tPRODUCT\tNAME\tQTY\tUNIT PRICE\tSUBTOTAL")
	for _, item := range cart.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			item.ItemID, item.ProductID, item.Name, item.Quantity,
			formatCents(item.UnitPrice), formatCents(item.UnitPrice*int64(item.Quantity)))
	}
	fmt.Fprintf(w, "\t\t\t\tTOTAL\t%s\n", formatCents(cart.Total))
	return w.Flush()
}

func printRawJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	fmt.Println(buf.String())
	return nil
}

// formatCents renders a price in minor units as a decimal string.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
