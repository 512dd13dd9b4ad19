package service

import (
	"os"
	"testing"

	"rag-api-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "json", "")
	os.Exit(m.Run())
}
