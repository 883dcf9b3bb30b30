package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ltavares/chatline/pkg/client"
	"github.com/ltavares/chatline/pkg/logging"
	"github.com/ltavares/chatline/pkg/protocol"
	"github.com/ltavares/chatline/pkg/version"
)

func main() {
	cfg := client.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Server address (host:port)")
	flag.IntVar(&cfg.ReconnectAttempts, "reconnect-attempts", cfg.ReconnectAttempts, "Reconnect attempts before giving up")
	flag.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "Delay between reconnect attempts")
	username := flag.String("user", "", "Username")
	password := flag.String("pass", "", "Password")
	logLevel := flag.String("log-level", "warn", "Log level: "+logging.LevelNames())
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("chatline client", version.Version)
		return
	}

	if err := logging.Setup(logging.Options{Level: *logLevel, Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	stdin := bufio.NewScanner(os.Stdin)
	if *username == "" {
		fmt.Print("Username: ")
		if !stdin.Scan() {
			return
		}
		*username = strings.TrimSpace(stdin.Text())
	}
	if *password == "" {
		fmt.Print("Password: ")
		if !stdin.Scan() {
			return
		}
		*password = strings.TrimSpace(stdin.Text())
	}

	d := client.New(cfg, *username, *password)
	d.OnServerLine = func(line string) {
		fmt.Println(line)
	}
	d.OnReconnecting = func(attempt int) {
		fmt.Printf("Reconnecting (attempt %d)...\n", attempt)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	go func() {
		for stdin.Scan() {
			line := strings.TrimSpace(stdin.Text())
			if line == "" {
				continue
			}
			if line == protocol.CmdQuit {
				d.Quit()
				return
			}
			if err := d.SendLine(line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
		d.Quit()
	}()

	if err := <-done; err != nil {
		fmt.Fprintf(os.Stderr, "connection error: %v\n", err)
		os.Exit(1)
	}
}
