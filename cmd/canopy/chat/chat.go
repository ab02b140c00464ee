// Package chatcmder provides the chat command for interactive LLM chat
// through a running canopy API server.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/cliui"
	"github.com/canopyhq/canopy/pkg/config"
	"github.com/canopyhq/canopy/pkg/dotdir"
	"github.com/canopyhq/canopy/pkg/logger"
	"github.com/canopyhq/canopy/pkg/orchestrator"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

type chatCommander struct {
	apiTarget  string
	title      string
	disableRAG bool
	debug      bool

	logger *zap.Logger
}

// sendMessageRequest mirrors canopyapi's request body for
// POST /api/conversations/{node_id}/messages/stream.
type sendMessageRequest struct {
	Message    string `json:"message"`
	DisableRAG bool   `json:"disable_rag,omitempty"`
}

type createConversationResponse struct {
	NodeID string `json:"node_id"`
	Title  string `json:"title"`
}

const chatLongDesc string = `Start an interactive chat session against a running canopy API server.

If a checkout state exists (from a prior chat session), the conversation
resumes from the checked-out node. A fresh root conversation is created
otherwise, and the new node is checked out for the next "canopy chat" run.

Examples:
  canopy chat
  canopy chat --api-target http://localhost:8081
  canopy chat --title "debugging the ingest pipeline"`

const chatShortDesc string = "Interactive chat through a canopy API server"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("api-target") && cfg.API.Listen != "" {
				cmder.apiTarget = listenToTarget(cfg.API.Listen)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.apiTarget, "api-target", "a", "http://localhost:8081", "canopy API server URL")
	cmd.Flags().StringVarP(&cmder.title, "title", "t", "", "Title for a newly created conversation")
	cmd.Flags().BoolVar(&cmder.disableRAG, "disable-rag", false, "Disable cross-branch retrieval for this session")

	return cmd
}

// listenToTarget turns a bind address like ":8081" into a loopback URL.
func listenToTarget(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}

func (c *chatCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	dotdirManager := dotdir.NewManager()
	checkout, err := dotdirManager.LoadCheckoutState("")
	if err != nil {
		return fmt.Errorf("loading checkout state: %w", err)
	}

	var nodeID string
	var messages []dotdir.CheckoutMessage

	fmt.Println()
	if checkout != nil {
		nodeID = checkout.NodeID
		messages = checkout.Messages
		fmt.Printf("  %s Resuming %s %s\n",
			cliui.SuccessMark,
			cliui.IDStyle.Render(nodeID),
			cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", len(messages))),
		)
	} else {
		nodeID, err = c.createConversation()
		if err != nil {
			return fmt.Errorf("creating conversation: %w", err)
		}
		if err := dotdirManager.SaveCheckout(&dotdir.CheckoutState{NodeID: nodeID}, ""); err != nil {
			return fmt.Errorf("saving checkout state: %w", err)
		}
		fmt.Printf("  %s New conversation %s\n", cliui.SuccessMark, cliui.IDStyle.Render(nodeID))
	}

	fmt.Printf("  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(userPrompt)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		assistantContent, err := c.sendAndStream(nodeID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s %v\n", cliui.FailMark, err)
			continue
		}

		messages = append(messages,
			dotdir.CheckoutMessage{Role: "user", Content: input},
			dotdir.CheckoutMessage{Role: "assistant", Content: assistantContent},
		)
		if err := dotdirManager.SaveCheckout(&dotdir.CheckoutState{NodeID: nodeID, Messages: messages}, ""); err != nil {
			c.logger.Warn("saving checkout state", zap.Error(err))
		}

		fmt.Println()
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Println()
	return nil
}

func (c *chatCommander) createConversation() (string, error) {
	body, err := json.Marshal(fiberCreateRequest{Title: c.title})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.apiTarget+"/api/conversations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out createConversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.NodeID, nil
}

// fiberCreateRequest mirrors canopyapi's createConversationRequest body.
type fiberCreateRequest struct {
	Title string `json:"title,omitempty"`
}

// sendAndStream posts a turn to the streaming endpoint and prints each
// token frame as it arrives. Returns the full assistant response text.
func (c *chatCommander) sendAndStream(nodeID, message string) (string, error) {
	reqBody := sendMessageRequest{Message: message, DisableRAG: c.disableRAG}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending chat request",
		zap.String("api_target", c.apiTarget),
		zap.String("node_id", nodeID),
	)

	url := c.apiTarget + "/api/conversations/" + nodeID + "/messages/stream"
	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Minute}

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request to api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	fmt.Print(assistantPrompt)

	var fullContent strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var ev orchestrator.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Debug("failed to parse stream frame", zap.Error(err), zap.String("line", line))
			continue
		}

		switch ev.Type {
		case orchestrator.EventToken:
			fmt.Print(ev.Content)
			fullContent.WriteString(ev.Content)
		case orchestrator.EventError:
			return fullContent.String(), fmt.Errorf("turn failed: %s", ev.Content)
		case orchestrator.EventDone:
			return fullContent.String(), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fullContent.String(), fmt.Errorf("reading stream: %w", err)
	}

	return fullContent.String(), nil
}
