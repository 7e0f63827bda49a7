package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
	"github.com/ncecere/open_media_gateway/backend/internal/providers"
	"github.com/ncecere/open_media_gateway/backend/internal/router"
)

// inspectroutes prints how each catalog alias resolves to provider routes.
func main() {
	configFile := flag.String("config", "", "path to router config (defaults to ROUTER_CONFIG_FILE or ./router.yaml)")
	listProviders := flag.Bool("providers", false, "list the registered provider builders and exit")
	flag.Parse()

	if *listProviders {
		printProviders()
		return
	}

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	engine := router.NewEngine()
	if err := engine.Reload(context.Background(), providers.NewFactory(cfg)); err != nil {
		log.Fatalf("build routes: %v", err)
	}

	aliases := engine.ListAliases()
	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tPROVIDER\tMODEL\tFAMILY\tMODALITIES\tWEIGHT\tPRICE/S\tENDPOINT")
	for _, alias := range names {
		for _, route := range aliases[alias] {
			model := route.ToModel()
			price := "-"
			if route.PricePerSecond > 0 {
				price = fmt.Sprintf("%g %s", route.PricePerSecond, route.Currency)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				alias,
				route.Provider,
				route.Model,
				orDash(route.Family),
				strings.Join(model.Modalities, ","),
				route.Weight,
				price,
				orDash(route.Endpoint),
			)
		}
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("write: %v", err)
	}
}

func printProviders() {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODALITIES\tSTREAMING\tDESCRIPTION")
	for _, def := range providers.DefaultDefinitions() {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", def.Name, strings.Join(def.Modalities, ","), def.Streaming, def.Description)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("write: %v", err)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
