package service

import (
	"fmt"
	"strings"

	"gharsathi/internal/models"

	"github.com/bwmarrin/snowflake"
)

// CodeGenerator issues human-facing booking codes such as BK-3F9Q2K1ZP0G.
// Codes are unique per node id, so every process writing to the same store
// needs its own node.
type CodeGenerator struct {
	node *snowflake.Node
}

func NewCodeGenerator(nodeID int64) (*CodeGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("booking code node %d: %w", nodeID, err)
	}
	return &CodeGenerator{node: node}, nil
}

func (g *CodeGenerator) Next() string {
	return models.BookingCodePrefix + "-" + strings.ToUpper(g.node.Generate().Base36())
}
