package main

import (
	"flag"
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"hostscan/internal/localstore"
	"hostscan/internal/logging"
	"hostscan/internal/shared"
)

func main() {
	configPath := flag.String("config", "./hostscan.json", "path to config json")
	pin := flag.String("pin", "", "also list the scans indexed under this pin")
	flag.Parse()

	cfg, err := shared.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, _, err := logging.New(logging.Options{Level: "warn"})
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}

	index, err := localstore.OpenIndex(cfg.IndexPath, logger)
	if err != nil {
		logger.WithError(err).Fatalf("OpenIndex %s failed", cfg.IndexPath)
	}
	defer index.Close()

	tables, err := index.Tables()
	if err != nil {
		logger.WithError(err).Fatal("listing tables failed")
	}
	fmt.Println("Index:", cfg.IndexPath)
	fmt.Println("Tables:")
	for _, name := range tables {
		fmt.Println(" -", name)
	}

	applied, err := index.Migrations()
	if err != nil {
		logger.WithError(err).Fatal("listing migrations failed")
	}
	fmt.Println("Migrations:")
	for _, name := range applied {
		fmt.Println(" -", name)
	}

	n, err := index.Count()
	if err != nil {
		logger.WithError(err).Fatal("count failed")
	}
	fmt.Println("Scans:", n)

	if *pin == "" {
		return
	}
	entries, err := index.FindByPin(*pin)
	if err != nil {
		logger.WithError(err).Fatal("pin lookup failed")
	}
	fmt.Printf("Pin %s: %d scan(s)\n", *pin, len(entries))
	for _, e := range entries {
		fmt.Printf(" - %s %s %s %s\n", e.Filename, e.Hostname, humanize.Bytes(uint64(e.SizeBytes)), humanize.Time(e.SavedAt))
	}
}
