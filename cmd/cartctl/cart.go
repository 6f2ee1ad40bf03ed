// Cart subcommands: show, totals, add, update, remove, clear, checkout.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/001Space/cartsync/internal/domain"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := callDaemon(http.MethodGet, "/api/v1/cart", nil)
		if err != nil {
			return err
		}
		return printCartEnvelope(env)
	},
}

var totalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Show the cart item count and total",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := callDaemon(http.MethodGet, "/api/v1/cart/totals", nil)
		if err != nil {
			return err
		}
		if flagJSON {
			return printRawJSON(env.Data)
		}
		var totals domain.Totals
		if err := json.Unmarshal(env.Data, &totals); err != nil {
			return fmt.Errorf("decode totals: %w", err)
		}
		fmt.Printf("items: %d\ntotal: %s\n", totals.ItemCount, formatCents(totals.Total))
		return nil
	},
}

var (
	addProductID string
	addQuantity  int
	addUnitPrice int64
	addName      string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a product to the cart",
	Long: `Add a product to the cart.

The price and name are only used when the backend is unreachable and the
item has to be recorded in the local fallback cart.

Example:
  cartctl add --product prod-42 --quantity 2
  cartctl add --product prod-42 --quantity 1 --price 1299 --name "Mug"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := callDaemon(http.MethodPost, "/api/v1/cart/items", map[string]any{
			"product_id": addProductID,
			"quantity":   addQuantity,
			"unit_price": addUnitPrice,
			"name":       addName,
		})
		if err != nil {
			return err
		}
		return printCartEnvelope(env)
	},
}

var updateQuantity int

var updateCmd = &cobra.Command{
	Use:   "update <item-id>",
	Short: "Change an item's quantity",
	Long: `Change an item's quantity. A quantity of zero removes the item.

Example:
  cartctl update 105 --quantity 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := callDaemon(http.MethodPut, "/api/v1/cart/items/"+args[0], map[string]any{
			"quantity": updateQuantity,
		})
		if err != nil {
			return err
		}
		return printCartEnvelope(env)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <item-id>",
	Short: "Remove an item from the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := callDaemon(http.MethodDelete, "/api/v1/cart/items/"+args[0], nil)
		if err != nil {
			return err
		}
		return printCartEnvelope(env)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := callDaemon(http.MethodDelete, "/api/v1/cart", nil)
		if err != nil {
			return err
		}
		return printCartEnvelope(env)
	},
}

var checkoutCeilings []string

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Check out the cart",
	Long: `Check out the cart against the remote backend.

Per-product stock ceilings can be supplied to pre-validate quantities:
  cartctl checkout --ceiling prod-42=3 --ceiling prod-7=1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ceilings, err := parseCeilings(checkoutCeilings)
		if err != nil {
			return err
		}

		var body any
		if len(ceilings) > 0 {
			body = map[string]any{"stock_ceilings": ceilings}
		}
		env, err := callDaemon(http.MethodPost, "/api/v1/cart/checkout", body)
		if err != nil {
			return err
		}
		if flagJSON {
			return printRawJSON(env.Data)
		}
		var receipt domain.Receipt
		if err := json.Unmarshal(env.Data, &receipt); err != nil {
			return fmt.Errorf("decode receipt: %w", err)
		}
		fmt.Printf("order: %s\nstatus: %s\ntotal: %s\n",
			receipt.OrderID, receipt.Status, formatCents(receipt.Total))
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addProductID, "product", "", "product ID (required)")
	addCmd.Flags().IntVar(&addQuantity, "quantity", 1, "quantity to add")
	addCmd.Flags().Int64Var(&addUnitPrice, "price", 0, "unit price in minor units, for fallback display")
	addCmd.Flags().StringVar(&addName, "name", "", "product name, for fallback display")
	_ = addCmd.MarkFlagRequired("product")

	updateCmd.Flags().IntVar(&updateQuantity, "quantity", 0, "new quantity (required; 0 removes)")
	_ = updateCmd.MarkFlagRequired("quantity")

	checkoutCmd.Flags().StringArrayVar(&checkoutCeilings, "ceiling", nil, "stock ceiling as product-id=max, repeatable")
}

// parseCeilings converts repeated product-id=max flags into a map.
func parseCeilings(raw []string) (map[string]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ceilings := make(map[string]int, len(raw))
	for _, entry := range raw {
		productID, limit, found := strings.Cut(entry, "=")
		if !found || productID == "" {
			return nil, fmt.Errorf("invalid ceiling %q, expected product-id=max", entry)
		}
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("invalid ceiling %q, expected product-id=max", entry)
		}
		ceilings[productID] = parsed
	}
	return ceilings, nil
}
