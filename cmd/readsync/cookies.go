package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/readsync/internal/models"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "List the domains and cookie names in the cookie-sync export",
	Long: `Cookies fetches and decrypts the cookie-sync export and lists the cookie
names found per domain. Cookie values are never printed.`,
	Example: `  readsync cookies
  readsync cookies --domain weread.qq.com`,
	Args: cobra.NoArgs,
	RunE: runCookies,
}

var cookieDomains []string

func init() {
	rootCmd.AddCommand(cookiesCmd)

	cookiesCmd.Flags().StringSliceVarP(&cookieDomains, "domain", "d", nil,
		"Only list this domain (repeatable)")
}

func runCookies(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireCookieSync(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	jar, err := apiClient.Cookies.Jar(cmd.Context())
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(cookieDomains))
	for _, d := range cookieDomains {
		want[strings.ToLower(strings.TrimSpace(d))] = true
	}

	listing := make(map[string][]string)
	var domains []string
	for _, domain := range jar.Domains() {
		if len(want) > 0 && !want[strings.ToLower(domain)] {
			continue
		}
		domains = append(domains, domain)
		listing[domain] = jar.Names(domain)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"domains": listing,
		})
		return nil
	}

	if len(domains) == 0 {
		printWarning("No matching domains in the export")
		return nil
	}

	for _, domain := range domains {
		names := listing[domain]
		infoColor.Printf("%s", domain)
		dimColor.Printf(" (%d)\n", len(names))
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
	}
	return nil
}
