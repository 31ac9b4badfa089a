package main

import (
	"context"
	"flag"
	"log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"manual-hand/index"
)

type IndexConfig struct {
	ElasticURL      string `envconfig:"ELASTIC_URL" default:"http://localhost:9200"`
	ElasticUser     string `envconfig:"ELASTIC_USER"`
	ElasticPassword string `envconfig:"ELASTIC_PASSWORD"`
	ElasticIndex    string `envconfig:"ELASTIC_INDEX" default:"documents"`
}

func main() {
	recreate := flag.Bool("recreate", false, "Index löschen und mit aktuellem Schema neu anlegen (alle Daten gehen verloren)")
	flag.Parse()

	log.Println("Initialisiere Suchindex...")

	var cfg IndexConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.ElasticURL},
		Username:  cfg.ElasticUser,
		Password:  cfg.ElasticPassword,
	})
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des Elasticsearch-Clients: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Fehler beim Initialisieren des Loggers: %v", err)
	}
	defer logger.Sync()

	engine := &index.Engine{ES: es, Index: cfg.ElasticIndex, Logger: logger}

	ctx := context.Background()
	if *recreate {
		log.Printf("Lege Index %q neu an (--recreate)...", cfg.ElasticIndex)
		err = engine.RecreateIndex(ctx)
	} else {
		err = engine.EnsureIndex(ctx)
	}
	if err != nil {
		log.Fatalf("Fehler beim Anlegen des Index: %v", err)
	}

	log.Printf("Suchindex %q ist bereit.", cfg.ElasticIndex)
}
