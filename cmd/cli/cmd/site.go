package cmd

import (
	"fedplane/pkg/api"
	"fedplane/pkg/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Register and inspect sites",
}

var siteRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new site and print its API key",
	Long: `Register a new site with the controller. The API key is printed once and
cannot be recovered; store it on the site as SITE_API_KEY.

Example:
  flctl site register --name hospital-a --description "Radiology, building 4" --admin-secret $ADMIN_SECRET`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")

		secret := viper.GetString("admin_secret")
		if secret == "" {
			cmd.Println("Admin secret not found. Please set it using the --admin-secret flag or the FEDPLANE_ADMIN_SECRET environment variable")
			return
		}
		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		c := client.New(viper.GetString("url"), "")
		result, err := c.RegisterSite(ctx, secret, api.RegisterSiteRequest{Name: name, Description: description})
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Site registered!\nUID:     %s\nName:    %s\nAPI key: %s\n", result.Site.UID, result.Site.Name, result.APIKey)
		cmd.Printf("%sThe API key is shown only once.%s\n", colorDim, colorReset)
	},
}

var siteShowCmd = &cobra.Command{
	Use:   "show [site_uid]",
	Short: "Show a site and its connectivity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := siteClient(cmd)
		if c == nil {
			return
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		site, err := c.GetSite(ctx, args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		printSite(cmd, site)
	},
}

var siteHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat [site_uid]",
	Short: "Report a site's status manually",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		status, _ := cmd.Flags().GetString("status")

		c := siteClient(cmd)
		if c == nil {
			return
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		site, err := c.Heartbeat(ctx, args[0], status)
		if err != nil {
			printError(cmd, err)
			return
		}
		printSite(cmd, site)
	},
}

func printSite(cmd *cobra.Command, site *api.SiteResponse) {
	cmd.Printf("%s %sSite Details%s\n", statusIcon(site.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sUID:%s         %s\n", colorDim, colorReset, site.UID)
	cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, site.Name)
	if site.Description != "" {
		cmd.Printf("%sDescription:%s %s\n", colorDim, colorReset, site.Description)
	}
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(site.Status))
	cmd.Printf("%sLast seen:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(site.UpdatedAt))
}

func init() {
	siteRegisterCmd.Flags().StringP("name", "n", "", "Name of the site (required)")
	siteRegisterCmd.Flags().StringP("description", "d", "", "Free-form description")
	siteHeartbeatCmd.Flags().String("status", "CONNECTED", "Status to report (CONNECTED or DISCONNECTED)")

	siteCmd.AddCommand(siteRegisterCmd, siteShowCmd, siteHeartbeatCmd)
	rootCmd.AddCommand(siteCmd)
}
