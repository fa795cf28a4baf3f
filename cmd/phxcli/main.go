// Command phxcli is an interactive REPL for exercising a Socket and a
// single Channel against a live Phoenix endpoint.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gophoenix/phx"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: phxcli ws[s]://host[:port]/[path][?key=value]")
		os.Exit(1)
	}

	endpoint := os.Args[1]
	fmt.Printf("Ready to connect to %q, 'h' for help, 'q' to exit\n", endpoint)

	socket := phx.NewSocket(endpoint)
	socket.Logger = phx.NewSimpleLogger(phx.LogInfo)
	socket.OnOpen(func() {
		fmt.Println("+ connected")
	})
	socket.OnClose(func(code int, reason string) {
		fmt.Printf("x disconnected (code=%d reason=%q)\n", code, reason)
	})
	socket.OnError(func(err error) {
		fmt.Println("!", err)
	})
	socket.OnMessage(func(msg phx.Message) {
		fmt.Printf("= %+v\n", msg)
	})

	var channel *phx.Channel

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")

		input, err := reader.ReadString('\n')
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Println("Error:", err)
			continue
		}

		input = strings.Trim(input, " \t\n")
		cmd, arg, _ := strings.Cut(input, " ")

		switch cmd {
		case "h":
			usage()

		case "q":
			return

		case "c":
			if err := socket.Connect(); err != nil {
				fmt.Println(err)
			}

		case "d":
			if err := socket.Disconnect(phx.CloseNormal, "bye"); err != nil {
				fmt.Println(err)
			}

		case "r":
			if err := socket.Reconnect(); err != nil {
				fmt.Println(err)
			}

		case "s":
			fmt.Printf("Connected: %v\n", socket.IsConnected())
			if channel != nil {
				fmt.Printf("Channel %q: %v\n", channel.Topic(), channel.State())
			} else {
				fmt.Println("Channel: uninitialized")
			}

		case "ch":
			if channel != nil {
				channel.Remove()
			}

			topic, paramStr, _ := strings.Cut(arg, " ")
			if topic == "" {
				usage()
				continue
			}
			params := parsePairs(paramStr, ":")
			fmt.Printf("Creating channel %v with %v\n", topic, params)

			channel = socket.Channel(topic, params)
			channel.On("shout", func(msg phx.Message) {
				fmt.Println("s-", string(msg.Payload))
			})
			channel.OnClose(func(msg phx.Message) {
				fmt.Println("x-", string(msg.Payload))
			})
			channel.OnError(func(msg phx.Message) {
				fmt.Println("!-", string(msg.Payload))
			})

		case "rm":
			if channel != nil {
				channel.Remove()
				channel = nil
			} else {
				fmt.Println("no channel to remove")
			}

		case "j":
			if channel == nil {
				fmt.Println("create a channel first")
				continue
			}
			join := channel.Join()
			join.Receive("ok", func(msg phx.Message) {
				fmt.Println("joined", channel.Topic(), string(msg.Payload))
			})
			join.Receive("error", func(msg phx.Message) {
				fmt.Println("join error", string(msg.Payload))
			})

		case "l":
			if channel == nil {
				fmt.Println("create a channel first")
				continue
			}
			leave := channel.Leave()
			leave.Receive("ok", func(msg phx.Message) {
				fmt.Println("left", channel.Topic(), string(msg.Payload))
			})

		case "p":
			if channel == nil {
				fmt.Println("create a channel first")
				continue
			}
			event, payloadStr, _ := strings.Cut(arg, " ")
			var payload any = payloadStr
			if strings.Contains(payloadStr, ":") {
				payload = parsePairs(payloadStr, ":")
			}
			p := channel.Push(event, payload)
			p.Receive("ok", func(msg phx.Message) {
				fmt.Println("push ok:", string(msg.Payload))
			})
			p.Receive("error", func(msg phx.Message) {
				fmt.Println("push error:", string(msg.Payload))
			})
			p.Receive("timeout", func(msg phx.Message) {
				fmt.Println("push timeout")
			})

		case "pb":
			if channel == nil {
				fmt.Println("create a channel first")
				continue
			}
			event, payloadStr, _ := strings.Cut(arg, " ")
			p := channel.BinaryPush(event, []byte(payloadStr))
			p.Receive("ok", func(msg phx.Message) {
				fmt.Println("binary push ok:", msg.Payload)
			})
			p.Receive("error", func(msg phx.Message) {
				fmt.Println("binary push error:", msg.Payload)
			})

		default:
			if cmd != "" {
				fmt.Println("unknown command")
				usage()
			}
		}
	}
}

func parsePairs(s, sep string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		key, value, found := strings.Cut(pair, sep)
		if found {
			out[key] = value
		}
	}
	return out
}

func usage() {
	fmt.Print(`
q                            quit
c                            connect
d                            disconnect
r                            reconnect
s                            status
ch topic [key:value[,...]]  create channel
rm                           remove channel
j                            join channel
l                            leave channel
p event [payload]           push event (text)
pb event [payload]          push event (binary)
`)
}
