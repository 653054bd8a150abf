package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gathertown/grapevine/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event intake and admin API server",
	Long: `Start the HTTP server that receives message events from the chat
platform and exposes the tenant and pending-action admin API.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		rt, err := getRouter()
		if err != nil {
			return err
		}
		engine, err := getEngine()
		if err != nil {
			return err
		}

		srv := api.NewServer(s, rt, engine, logger)
		addr := fmt.Sprintf(":%d", viper.GetInt("port"))
		logger.Info("listening", "addr", addr)
		return http.ListenAndServe(addr, srv.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	viper.SetDefault("port", 8080)
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}
