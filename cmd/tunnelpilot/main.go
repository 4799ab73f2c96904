/*
 * Copyright 2026 The FileRipper Team
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tunnelpilot"
	"tunnelpilot/internal/core"
	"tunnelpilot/internal/pfte"
)

func main() {
	fmt.Println("tunnelpilot v0.1.0")

	if len(os.Args) < 2 {
		printUsage()
		return
	}

	switch os.Args[1] {
	case "shell":
		handleShellCLI(os.Args)
	case "download":
		handleDownloadCLI(os.Args)
	case "upload":
		handleUploadCLI(os.Args)
	default:
		fmt.Printf("Error: %v: %s\n", core.ErrUnknownCommand, os.Args[1])
		printUsage()
	}
}

func connectFromArgs(args []string) (*tunnelpilot.Client, *tunnelpilot.Session, error) {
	if len(args) < 5 {
		return nil, nil, fmt.Errorf("missing connection arguments")
	}
	host := args[2]
	port, err := strconv.Atoi(args[3])
	if err != nil {
		return nil, nil, fmt.Errorf("invalid port: %w", err)
	}
	user := args[4]

	log := logrus.StandardLogger()
	client := tunnelpilot.NewClient(log, nil, nil)
	cfg := tunnelpilot.SessionConfig{
		Host:                      host,
		Port:                      port,
		User:                      user,
		TryAgentForAuthentication: true,
		UsePublicKeyAutoAuth:      true,
		StrictHostKeyCheck:        false,
	}

	sess, err := client.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, sess, nil
}

func handleShellCLI(args []string) {
	client, sess, err := connectFromArgs(args)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer client.DisconnectAll()

	ch, err := sess.OpenShell(tunnelpilot.PtyOptions{
		TerminalType: "xterm-256color", Columns: 80, Rows: 24, RequestShell: true,
	})
	if err != nil {
		fmt.Println("Error opening shell:", err)
		os.Exit(1)
	}

	ch.OnOutput(func(data []byte, isStderr bool) {
		os.Stdout.Write(data)
	})

	fmt.Println(">> interactive shell open, type 'exit' to quit")
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		ch.Write([]byte(line))
		if strings.TrimSpace(line) == "exit" {
			break
		}
	}
	ch.Close()
}

func handleDownloadCLI(args []string) {
	if len(args) < 8 {
		fmt.Println("Usage: tunnelpilot download <host> <port> <user> <remote> <local>")
		return
	}
	client, sess, err := connectFromArgs(args)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer client.DisconnectAll()

	remote, local := args[6], args[7]
	transfers, err := sess.OpenTransferQueue(tunnelpilot.SftpOptions{
		OperationTimeout: 8 * time.Second, Concurrency: 1,
	})
	if err != nil {
		fmt.Println("Error opening sftp:", err)
		os.Exit(1)
	}
	defer transfers.Close()

	runWithDashboard(func() error {
		_, err := transfers.Download(remote, local, tunnelpilot.TransferOptions{TryContinue: true},
			func(current, max int64) { printProgress(current, max) },
			func(bulk pfte.BulkProgress) { printProgress(bulk.BytesCurrent, bulk.BytesTotal) },
			nil,
		)
		return err
	}, transfers)
}

func handleUploadCLI(args []string) {
	if len(args) < 8 {
		fmt.Println("Usage: tunnelpilot upload <host> <port> <user> <local> <remote>")
		return
	}
	client, sess, err := connectFromArgs(args)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer client.DisconnectAll()

	local, remote := args[6], args[7]
	transfers, err := sess.OpenTransferQueue(tunnelpilot.SftpOptions{
		OperationTimeout: 8 * time.Second, Concurrency: 1,
	})
	if err != nil {
		fmt.Println("Error opening sftp:", err)
		os.Exit(1)
	}
	defer transfers.Close()

	runWithDashboard(func() error {
		_, err := transfers.Upload(local, remote, tunnelpilot.TransferOptions{TryContinue: true},
			func(current, max int64) { printProgress(current, max) },
		)
		return err
	}, transfers)
}

var lastProgress struct {
	current, max int64
}

func printProgress(current, max int64) {
	lastProgress.current, lastProgress.max = current, max
}

// runWithDashboard starts the transfer and polls the queue until it drains,
// printing a single-line rclone-style progress bar while it waits.
func runWithDashboard(start func() error, transfers *tunnelpilot.Transfers) {
	startTime := time.Now()
	if err := start(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	for transfers.Len() > 0 {
		elapsed := time.Since(startTime).Round(time.Second)
		fmt.Printf("\r\033[K%s / %s | %s", formatBytes(lastProgress.current), formatBytes(lastProgress.max), elapsed)
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Printf("\r\033[K%s / %s | done in %s\n", formatBytes(lastProgress.current), formatBytes(lastProgress.max), time.Since(startTime).Round(time.Second))
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func printUsage() {
	fmt.Println(`
Usage: tunnelpilot <command> [args]

Commands:
  shell    <host> <port> <user>                  Open an interactive PTY shell
  download <host> <port> <user> <remote> <local>  Download a file or directory
  upload   <host> <port> <user> <local> <remote>  Upload a file
`)
}
