package cmd

import (
	"fmt"
	"log"

	"github.com/davidschrooten/atlas-reconciler/config"
	"github.com/davidschrooten/atlas-reconciler/internal/mongodb"
	"github.com/davidschrooten/atlas-reconciler/internal/reconciler"
	"github.com/davidschrooten/atlas-reconciler/internal/search"
)

// environment holds the wired collaborators shared by all commands
type environment struct {
	MongoClient *mongodb.Client
	Engine      *search.Engine
	Service     *reconciler.Service
}

// setupEnvironment connects to MongoDB, opens the indexes and builds the
// reconciler service
func setupEnvironment(cfg *config.Config) (*environment, error) {
	mongoClient, err := mongodb.NewClient(cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	engine, err := search.NewEngine(cfg.Search)
	if err != nil {
		mongoClient.Disconnect()
		return nil, fmt.Errorf("failed to initialize search engine: %w", err)
	}

	service, err := reconciler.NewService(mongoClient, engine, cfg)
	if err != nil {
		engine.Close()
		mongoClient.Disconnect()
		return nil, fmt.Errorf("failed to initialize reconciler: %w", err)
	}

	return &environment{
		MongoClient: mongoClient,
		Engine:      engine,
		Service:     service,
	}, nil
}

// Close releases the environment's resources
func (e *environment) Close() {
	if err := e.Engine.Close(); err != nil {
		log.Printf("Failed to close search engine: %v", err)
	}
	if err := e.MongoClient.Disconnect(); err != nil {
		log.Printf("Failed to disconnect from MongoDB: %v", err)
	}
}

// indexNames resolves the indexes a one-shot command operates on: the
// given argument, or every configured index when none is given
func indexNames(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}

	names := make([]string, 0, len(cfg.Indexes))
	for _, indexCfg := range cfg.Indexes {
		names = append(names, indexCfg.Name)
	}
	return names
}
