package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowAPIKeyGuide explains where catalog API keys come from and how the
// processor finds them
func ShowAPIKeyGuide(w io.Writer, catalogURL string) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "CATALOG API KEY")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Catalog: %s\n", catalogURL)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Public STAC catalogs can be searched without a key. Catalogs that")
	fmt.Fprintln(w, "sign asset downloads or throttle anonymous clients issue a")
	fmt.Fprintln(w, "subscription key from their account portal.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The key is looked up in this order:")
	fmt.Fprintln(w, "  1. the system keychain (glai auth login)")
	fmt.Fprintln(w, "  2. an encrypted file in the user config directory")
	fmt.Fprintf(w, "  3. the %s environment variable\n", EnvCatalogAPIKey)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "It is sent in the header named by catalog.api_key_header.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
