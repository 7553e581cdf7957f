package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/tradecore/matchd/internal/app"
	"github.com/tradecore/matchd/internal/config"
)

func main() {
	var (
		name       = flag.String("name", "", "instance tag (max 16 chars, INST_NAME env fallback)")
		prodID     = flag.String("prodid", "", "product id this engine matches (u16)")
		testSize   = flag.String("test-order-book-size", "", "seed the book with N resting orders per side (N, Nk, Nm, Ng)")
		configPath = flag.String("config", "", "directory containing matchd.yaml")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, config.Overrides{
		Tag:               *name,
		ProductID:         *prodID,
		TestOrderBookSize: *testSize,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "matchd: %v\n", err)
		os.Exit(1)
	}

	fx.New(app.Module(cfg)).Run()
}
