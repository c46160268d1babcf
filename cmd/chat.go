package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/fzft/pollrelay/deps/linenoise"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	ChatHistFileEnv     = "POLLRELAY_HISTFILE"
	ChatHistFileDefault = ".pollrelay_history"
	chatDialTimeout     = 5 * time.Second
)

type ChatConfig struct {
	Host        string
	Port        int
	Prompt      string
	HistoryFile string
}

// Chat is an interactive relay client: lines typed locally are sent with a trailing
// newline, everything the relay forwards is printed as it arrives.
type Chat struct {
	config ChatConfig
	in     *os.File
	out    io.Writer
}

func NewChat(config ChatConfig) *Chat {
	return &Chat{config: config, in: os.Stdin, out: os.Stdout}
}

func (c *Chat) Addr() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

func (c *Chat) Run() error {
	conn, err := net.DialTimeout("tcp", c.Addr(), chatDialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	received := make(chan error, 1)
	go func() {
		_, err := io.Copy(c.out, conn)
		received <- err
	}()

	var sendErr error
	if isatty.IsTerminal(c.in.Fd()) || isatty.IsCygwinTerminal(c.in.Fd()) {
		sendErr = c.interactive(conn, received)
	} else {
		sendErr = sendLines(conn, c.in)
	}
	if sendErr != nil {
		return sendErr
	}

	// stdin is done, keep printing until the relay closes us
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}
	return <-received
}

func (c *Chat) interactive(conn net.Conn, received <-chan error) error {
	ln := linenoise.New()
	defer ln.Close()

	if c.config.HistoryFile != "" {
		ln.HistoryLoad(c.config.HistoryFile)
		defer ln.HistorySave(c.config.HistoryFile)
	}

	for {
		select {
		case err := <-received:
			fmt.Fprintln(c.out, "connection closed by relay")
			return err
		default:
		}

		line, err := ln.Prompt(c.config.Prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit":
			return nil
		case "/clear":
			linenoise.ClearScreen(c.out)
			continue
		}

		ln.AppendHistory(line)
		if _, err := io.WriteString(conn, line+"\n"); err != nil {
			return err
		}
	}
}

// sendLines forwards r line by line, each terminated by a single newline.
func sendLines(w io.Writer, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if _, err := io.WriteString(w, scanner.Text()+"\n"); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func historyFile() string {
	if path := os.Getenv(ChatHistFileEnv); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ChatHistFileDefault)
}

func newChatCommand() *cobra.Command {
	config := ChatConfig{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Connect to a relay and chat interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.HistoryFile = historyFile()
			return NewChat(config).Run()
		},
	}
	cmd.Flags().StringVarP(&config.Host, "host", "H", "127.0.0.1", "relay host")
	cmd.Flags().IntVarP(&config.Port, "port", "p", 9034, "relay port")
	cmd.Flags().StringVar(&config.Prompt, "prompt", "> ", "input prompt")
	return cmd
}
