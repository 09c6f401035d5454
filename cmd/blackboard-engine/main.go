package main

import (
	"log"

	"github.com/cordum/blackboard/core/controlplane/workflowengine"
	"github.com/cordum/blackboard/core/infra/buildinfo"
	"github.com/cordum/blackboard/core/infra/config"
)

func main() {
	log.Println("blackboard engine starting...")
	buildinfo.Log("blackboard-engine")
	cfg := config.Load()
	if err := workflowengine.Run(cfg); err != nil {
		log.Fatalf("workflow engine error: %v", err)
	}
}
