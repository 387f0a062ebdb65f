package cmd

import (
	"fmt"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-shellwords"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Reckless312/peerchat/chat/domain"
	"github.com/Reckless312/peerchat/chat/service"
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Host or join a chat room in a tview-based interface",
	Long: `Opens a chat room in a terminal interface. Without --invite this
process hosts the room and its relay; with --invite it joins the relay at
the given address. Type /mute, /admin or /kick followed by a username to
request a role change, /quit to leave.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		username := viper.GetString(displayNameKey)
		if username == "" {
			username = strings.TrimSpace(prompt.Input("name ❯❯ ", func(prompt.Document) []prompt.Suggest {
				return nil
			}))
		}
		if username == "" {
			return fmt.Errorf("a display name is required")
		}

		cfg := service.Config{
			Username:      username,
			ListenAddress: viper.GetString(listenAddressKey),
			InviteAddress: viper.GetString(inviteAddressKey),
			Capacity:      viper.GetInt(capacityKey),
			MinOccupancy:  viper.GetInt(minOccupancyKey),
			IdleTimeout:   viper.GetDuration(idleTimeoutKey),
		}
		return runChatUI(cfg)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// tviewDispatcher marshals chat events onto the tview draw loop, which
// is the single thread allowed to touch widgets.
type tviewDispatcher struct {
	app *tview.Application
}

func (d tviewDispatcher) Dispatch(fn func()) {
	d.app.QueueUpdateDraw(fn)
}

func runChatUI(cfg service.Config) error {
	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true).
		ScrollToEnd()

	inputField := tview.NewInputField().
		SetLabel(cfg.Username + " ❯❯ ").
		SetFieldWidth(0).
		SetAcceptanceFunc(tview.InputFieldMaxLength(256))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, false).
		AddItem(inputField, 1, 0, true)

	app.SetRoot(flex, true).SetFocus(inputField)

	svc := service.New(cfg, tviewDispatcher{app: app}, newLogger(true))

	svc.OnMessage(func(msg domain.Message) {
		name := msg.SenderName
		if msg.SenderRole == domain.RoleHost {
			name += " ♛"
		} else if msg.SenderRole == domain.RoleAdmin {
			name += " ★"
		}
		if msg.Alignment == domain.AlignRight {
			fmt.Fprintf(textView, "[gray][%s] [green]%s[white]: %s\n", msg.Timestamp, name, msg.Content)
		} else {
			fmt.Fprintf(textView, "[gray][%s] [blue]%s[white]: %s\n", msg.Timestamp, name, msg.Content)
		}
		textView.ScrollToEnd()
	})
	svc.OnStatus(func(status domain.UserStatus) {
		if !status.IsConnected {
			fmt.Fprintln(textView, "[red]Disconnected from the room. Press Ctrl+C to exit.")
			return
		}
		fmt.Fprintf(textView, "[yellow]Your status changed: admin=%v muted=%v\n",
			status.IsAdmin, status.IsMuted)
	})
	svc.OnError(func(err error) {
		fmt.Fprintf(textView, "[red]Error: %v\n", err)
	})

	inputField.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(inputField.GetText())
		inputField.SetText("")
		if text == "" {
			return
		}
		if strings.HasPrefix(text, "/") {
			if quit := runSlashCommand(svc, textView, text); quit {
				svc.Disconnect()
				app.Stop()
			}
			return
		}
		if svc.Status().IsMuted {
			fmt.Fprintln(textView, "[red]You are muted and cannot send messages.")
			return
		}
		svc.SendMessage(text)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			svc.Disconnect()
			app.Stop()
			return nil
		}
		return event
	})

	if cfg.InviteAddress == service.SelfHosted {
		fmt.Fprintf(textView, "[green]Hosting a room on %s as %s. (Ctrl+C to exit)\n",
			cfg.ListenAddress, cfg.Username)
	} else {
		fmt.Fprintf(textView, "[green]Joining %s as %s. (Ctrl+C to exit)\n",
			cfg.InviteAddress, cfg.Username)
	}
	go svc.Connect()

	defer svc.Disconnect()
	return app.Run()
}

// runSlashCommand interprets one /-prefixed input line; the reported
// bool asks the caller to quit.
func runSlashCommand(svc *service.Service, textView *tview.TextView, text string) bool {
	args, err := shellwords.Parse(strings.TrimPrefix(text, "/"))
	if err != nil || len(args) == 0 {
		fmt.Fprintln(textView, "[red]Could not parse command.")
		return false
	}
	name := args[0]
	switch name {
	case "quit", "exit":
		return true
	case "mute", "admin", "kick":
		if len(args) != 2 {
			fmt.Fprintf(textView, "[red]Usage: /%s <username>\n", name)
			return false
		}
		switch name {
		case "mute":
			svc.MuteUser(args[1])
		case "admin":
			svc.AdminUser(args[1])
		case "kick":
			svc.KickUser(args[1])
		}
	case "status":
		status := svc.Status()
		fmt.Fprintf(textView, "[yellow]connected=%v host=%v admin=%v muted=%v\n",
			status.IsConnected, status.IsHost, status.IsAdmin, status.IsMuted)
	default:
		fmt.Fprintf(textView, "[red]Unknown command /%s. Try /mute, /admin, /kick, /status, /quit.\n", name)
	}
	return false
}
