package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/akamensky/argparse"

	"github.com/chaz8081/skellyctl/internal/ble"
	"github.com/chaz8081/skellyctl/internal/ble/protocol"
	"github.com/chaz8081/skellyctl/internal/config"
	"github.com/chaz8081/skellyctl/internal/transfer"
)

func main() {
	os.Exit(run())
}

var animations = map[string]byte{
	"head-on":   protocol.ActionHeadOn,
	"head-off":  protocol.ActionHeadOff,
	"arm-on":    protocol.ActionArmOn,
	"arm-off":   protocol.ActionArmOff,
	"torso-on":  protocol.ActionTorsoOn,
	"torso-off": protocol.ActionTorsoOff,
	"all-on":    protocol.ActionAllOn,
}

var lightModes = map[string]byte{
	"static": protocol.LightStatic,
	"strobe": protocol.LightStrobe,
	"pulse":  protocol.LightPulsing,
}

// run returns the exit status so deferred cleanup, including closing the
// device link, always happens.
func run() int {
	parser := argparse.NewParser("skellyctl", "Control an animated appliance over Bluetooth LE")
	configPath := parser.String("c", "config", &argparse.Options{Help: "path to config file (default: ~/.config/skellyctl/config.yaml)"})
	address := parser.String("a", "address", &argparse.Options{Help: "device address, overrides device.address"})
	debug := parser.Flag("d", "debug", &argparse.Options{Help: "log every frame sent and received"})

	initCmd := parser.NewCommand("init", "Write a default config file")
	scanCmd := parser.NewCommand("scan", "List nearby devices")
	statusCmd := parser.NewCommand("status", "Show device parameters")
	filesCmd := parser.NewCommand("files", "List stored files")

	uploadCmd := parser.NewCommand("upload", "Upload an audio file")
	uploadFile := uploadCmd.String("f", "file", &argparse.Options{Required: true, Help: "audio file to send"})
	uploadName := uploadCmd.String("n", "name", &argparse.Options{Help: "name on the device (default: file name)"})
	uploadPlay := uploadCmd.Flag("p", "play", &argparse.Options{Help: "play the file once stored"})
	uploadSafe := uploadCmd.Flag("x", "conservative", &argparse.Options{Help: "small chunks and slow pacing for lossy links"})

	playCmd := parser.NewCommand("play", "Play a stored file")
	playSerial := playCmd.Int("s", "serial", &argparse.Options{Help: "file serial"})
	playName := playCmd.String("n", "name", &argparse.Options{Help: "file name"})

	deleteCmd := parser.NewCommand("delete", "Delete a stored file")
	deleteSerial := deleteCmd.Int("s", "serial", &argparse.Options{Required: true, Help: "file serial"})
	deleteCluster := deleteCmd.Int("k", "cluster", &argparse.Options{Required: true, Help: "file cluster"})

	volumeCmd := parser.NewCommand("volume", "Set speaker volume")
	volumeLevel := volumeCmd.Int("l", "level", &argparse.Options{Required: true, Help: "volume, 0-255"})

	lightCmd := parser.NewCommand("light", "Set lights for the live show or a stored file")
	lightChannel := lightCmd.Int("i", "channel", &argparse.Options{Default: int(protocol.AllChannels), Help: "light channel, 255 for all"})
	lightBrightness := lightCmd.Int("b", "brightness", &argparse.Options{Default: -1, Help: "brightness, 0-255"})
	lightMode := lightCmd.Selector("m", "mode", []string{"static", "strobe", "pulse"}, &argparse.Options{Help: "light mode"})
	lightSpeed := lightCmd.Int("s", "speed", &argparse.Options{Default: -1, Help: "strobe or pulse speed, 0-255"})
	lightRGB := lightCmd.String("r", "rgb", &argparse.Options{Help: "colour as hex RRGGBB"})
	lightLoop := lightCmd.Flag("l", "loop", &argparse.Options{Help: "cycle through every colour"})
	lightFile := lightCmd.String("n", "name", &argparse.Options{Help: "stored file to change (default: live show)"})

	eyeCmd := parser.NewCommand("eye", "Set the eye icon")
	eyeIcon := eyeCmd.Int("e", "icon", &argparse.Options{Required: true, Help: "eye icon number, 1-18"})
	eyeFile := eyeCmd.String("n", "name", &argparse.Options{Help: "stored file to change (default: live show)"})

	animateCmd := parser.NewCommand("animate", "Trigger a movement")
	animateMove := animateCmd.Selector("m", "move", []string{"head-on", "head-off", "arm-on", "arm-off", "torso-on", "torso-off", "all-on"},
		&argparse.Options{Required: true, Help: "movement"})
	animateFile := animateCmd.String("n", "name", &argparse.Options{Help: "stored file to change (default: live show)"})

	rawCmd := parser.NewCommand("raw", "Send a raw command frame")
	rawTag := rawCmd.String("t", "tag", &argparse.Options{Required: true, Help: "command tag as hex, e.g. E5"})
	rawPayload := rawCmd.String("p", "payload", &argparse.Options{Help: "payload as hex"})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		return 2
	}

	if initCmd.Happened() {
		path, err := config.WriteDefault()
		if err != nil {
			return fail("init", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return 0
		}
		fmt.Printf("Wrote %s\n", path)
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fail("config", err)
	}
	if *address != "" {
		cfg.Device.Address = strings.TrimSpace(*address)
	}
	if *uploadSafe {
		cfg.Transfer.Conservative = true
	}
	if err := cfg.Validate(); err != nil {
		return fail("config validation", err)
	}
	level := config.ParseLogLevel(cfg.LogLevel)
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	adapter := ble.NewTinyGoAdapter()

	if scanCmd.Happened() {
		devices, err := ble.ScanForDevices(adapter, cfg.Device.NamePrefix, cfg.Device.ScanTimeout)
		if err != nil {
			return fail("scan", err)
		}
		printDevices(devices)
		return 0
	}

	if cfg.Device.Address == "" {
		return fail("config", errors.New("device.address is not set; run 'skellyctl scan' and pass --address"))
	}
	opts, err := cfg.SessionOptions()
	if err != nil {
		return fail("config", err)
	}
	opts.FetchOnConnect = false
	if *debug {
		opts.OnLog = func(l ble.LogLine) { fmt.Fprintln(os.Stderr, l) }
	}
	// A running upload notices the lost link on its own and reports it as
	// a disconnect, so its context is left alone.
	var uploading atomic.Bool
	opts.OnDisconnect = func() {
		slog.Warn("device disconnected")
		if !uploading.Load() {
			stop()
		}
	}

	sess, err := ble.Dial(ctx, adapter, cfg.Device.Address, opts)
	if err != nil {
		return fail("connect", err)
	}
	defer sess.Close()

	// First Ctrl+C cancels a running upload; otherwise it aborts.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			if sess.UploadActive() {
				slog.Info("cancelling upload", "signal", sig)
				if _, err := sess.CancelUpload(); err != nil {
					slog.Warn("cancel failed", "error", err)
				}
				continue
			}
			stop()
		}
	}()

	switch {
	case statusCmd.Happened():
		st, err := sess.RefreshStatus(ctx)
		if err != nil {
			return fail("status", err)
		}
		printStatus(st)

	case filesCmd.Happened():
		entries, err := sess.FetchCatalog(ctx)
		if err != nil && !errors.Is(err, ble.ErrCatalogIncomplete) {
			return fail("files", err)
		}
		printFiles(entries)
		if err != nil {
			fmt.Printf("Warning: %v\n", err)
		}

	case uploadCmd.Happened():
		uploading.Store(true)
		code := runUpload(ctx, sess, *uploadFile, *uploadName, *uploadPlay)
		uploading.Store(false)
		return code

	case playCmd.Happened():
		if *playName != "" {
			e, err := sess.PlayByName(ctx, *playName)
			if err != nil {
				return fail("play", err)
			}
			fmt.Printf("Playing #%d %s\n", e.Serial, e.Name)
			return 0
		}
		if *playSerial <= 0 || *playSerial > 0xFFFF {
			return fail("play", errors.New("pass --serial (1-65535) or --name"))
		}
		if err := sess.PlayFile(uint16(*playSerial)); err != nil {
			return fail("play", err)
		}

	case deleteCmd.Happened():
		if *deleteSerial <= 0 || *deleteSerial > 0xFFFF || *deleteCluster < 0 {
			return fail("delete", errors.New("serial must be 1-65535 and cluster non-negative"))
		}
		if err := sess.DeleteFile(ctx, uint16(*deleteSerial), uint32(*deleteCluster)); err != nil {
			return fail("delete", err)
		}
		fmt.Printf("Deleted #%d\n", *deleteSerial)

	case volumeCmd.Happened():
		level, err := byteArg("level", *volumeLevel)
		if err != nil {
			return fail("volume", err)
		}
		if err := sess.SetVolume(level); err != nil {
			return fail("volume", err)
		}

	case lightCmd.Happened():
		if err := runLight(ctx, sess, lightArgs{
			channel:    *lightChannel,
			brightness: *lightBrightness,
			mode:       *lightMode,
			speed:      *lightSpeed,
			rgb:        *lightRGB,
			loop:       *lightLoop,
			file:       *lightFile,
		}); err != nil {
			return fail("light", err)
		}

	case eyeCmd.Happened():
		if *eyeIcon < 1 || *eyeIcon > 18 {
			return fail("eye", fmt.Errorf("icon must be 1-18, got %d", *eyeIcon))
		}
		t, err := sess.TargetFile(ctx, *eyeFile)
		if err != nil {
			return fail("eye", err)
		}
		if err := sess.SetEye(byte(*eyeIcon), t); err != nil {
			return fail("eye", err)
		}

	case animateCmd.Happened():
		t, err := sess.TargetFile(ctx, *animateFile)
		if err != nil {
			return fail("animate", err)
		}
		if err := sess.Animate(animations[*animateMove], t); err != nil {
			return fail("animate", err)
		}

	case rawCmd.Happened():
		if err := sess.Raw(*rawTag, *rawPayload); err != nil {
			return fail("raw", err)
		}
		// Give the device a moment to answer so --debug shows the reply.
		time.Sleep(500 * time.Millisecond)
	}
	return 0
}

func runUpload(ctx context.Context, sess *ble.Session, path, name string, play bool) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return fail("upload", err)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	fmt.Printf("Uploading %s as %q (%d bytes)\n", path, name, len(data))

	res, err := sess.Upload(ctx, data, name, &progressPrinter{})
	fmt.Println()
	if err != nil {
		if errors.Is(err, transfer.ErrCancelled) {
			fmt.Println("Upload cancelled")
			return 130
		}
		return fail("upload", err)
	}
	fmt.Printf("Stored %q: %d chunks, %d retransmits, %s, %.1f KB/s\n",
		name, res.Chunks, res.Retransmits, res.Elapsed.Round(time.Millisecond), res.Throughput()/1024)

	if play {
		e, err := sess.PlayByName(ctx, name)
		if err != nil {
			return fail("play", err)
		}
		fmt.Printf("Playing #%d %s\n", e.Serial, e.Name)
	}
	return 0
}

type lightArgs struct {
	channel    int
	brightness int // -1 leaves it unchanged
	mode       string
	speed      int // -1 leaves it unchanged
	rgb        string
	loop       bool
	file       string
}

// runLight sends brightness, mode, speed and colour in that order, each
// only when given.
func runLight(ctx context.Context, sess *ble.Session, a lightArgs) error {
	ch, err := byteArg("channel", a.channel)
	if err != nil {
		return err
	}
	var color []byte
	if a.rgb != "" {
		color, err = protocol.DecodeHex(a.rgb)
		if err != nil || len(color) != 3 {
			return fmt.Errorf("rgb must be six hex digits, got %q", a.rgb)
		}
	}
	if a.brightness < 0 && a.mode == "" && a.speed < 0 && color == nil {
		return errors.New("nothing to set; pass --brightness, --mode, --speed or --rgb")
	}
	t, err := sess.TargetFile(ctx, a.file)
	if err != nil {
		return err
	}

	if a.brightness >= 0 {
		b, err := byteArg("brightness", a.brightness)
		if err != nil {
			return err
		}
		if err := sess.SetBrightness(ch, b, t); err != nil {
			return err
		}
	}
	if a.mode != "" {
		if err := sess.SetLightMode(ch, lightModes[a.mode], t); err != nil {
			return err
		}
	}
	if a.speed >= 0 {
		sp, err := byteArg("speed", a.speed)
		if err != nil {
			return err
		}
		if err := sess.SetSpeed(ch, sp, t); err != nil {
			return err
		}
	}
	if color != nil {
		return sess.SetColor(ch, color[0], color[1], color[2], a.loop, t)
	}
	return nil
}

func byteArg(name string, v int) (byte, error) {
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("%s must be 0-255, got %d", name, v)
	}
	return byte(v), nil
}

// progressPrinter draws a one-line progress bar on stdout.
type progressPrinter struct{}

func (p *progressPrinter) Phase(ph transfer.Phase) {
	switch ph {
	case transfer.Ending, transfer.Recovering, transfer.Committing:
		fmt.Printf("\n  %s...", ph)
	}
}

func (p *progressPrinter) Progress(sent, total int) {
	const width = 30
	filled := width * sent / total
	fmt.Printf("\r  [%s%s] %d/%d chunks", strings.Repeat("#", filled), strings.Repeat(".", width-filled), sent, total)
}

func (p *progressPrinter) Retransmit(int) {}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

func fail(what string, err error) int {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	return 1
}
