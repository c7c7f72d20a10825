package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/client"
)

type settings struct {
	APIURL       string        `envconfig:"API_URL" default:"http://localhost:8080"`
	Token        string        `envconfig:"TOKEN"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"production"`
	Psychologist string        `envconfig:"PSYCHOLOGIST"`
	Timezone     string        `envconfig:"TIMEZONE" default:"America/Santiago"`
	Days         int           `envconfig:"DAYS" default:"14"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

const usage = `usage: bookctl <command> [flags]

commands:
  slots  -psychologist ID          list bookable slots
  book   -psychologist ID -date YYYY-MM-DD -start HH:MM [-notes text]

environment: BOOKCTL_API_URL, BOOKCTL_TOKEN, BOOKCTL_ENVIRONMENT,
BOOKCTL_PSYCHOLOGIST, BOOKCTL_TIMEZONE, BOOKCTL_DAYS, BOOKCTL_TIMEOUT
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var s settings
	if err := envconfig.Process("bookctl", &s); err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()
	c := client.New(client.Config{
		BaseURL:      s.APIURL,
		Token:        s.Token,
		Timeout:      s.Timeout,
		MockFallback: s.Environment == "development",
		Location:     loc,
		Days:         s.Days,
		Logger:       logger,
	})

	switch args[0] {
	case "slots":
		return runSlots(ctx, c, s, args[1:], stdout)
	case "book":
		return runBook(ctx, c, s, args[1:], stdout)
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runSlots(ctx context.Context, c *client.Client, s settings, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("slots", flag.ContinueOnError)
	psychologist := fs.String("psychologist", s.Psychologist, "psychologist ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*psychologist)
	if err != nil {
		return fmt.Errorf("invalid psychologist ID: %w", err)
	}

	days, err := c.AvailableSlots(ctx, id)
	if err != nil {
		return err
	}
	printSlots(out, days)
	return nil
}

func runBook(ctx context.Context, c *client.Client, s settings, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	psychologist := fs.String("psychologist", s.Psychologist, "psychologist ID")
	date := fs.String("date", "", "session date (YYYY-MM-DD)")
	start := fs.String("start", "", "session start (HH:MM)")
	notes := fs.String("notes", "", "notes for the psychologist")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*psychologist)
	if err != nil {
		return fmt.Errorf("invalid psychologist ID: %w", err)
	}

	days, err := c.AvailableSlots(ctx, id)
	if err != nil {
		return err
	}
	slot, ok := findSlot(days, *date, *start)
	if !ok {
		fmt.Fprintln(out, "That slot is not offered. Available slots:")
		printSlots(out, days)
		return errors.New("slot not available")
	}

	appointment, err := c.Book(ctx, id, slot, *notes)
	var conflict *client.ConflictError
	if errors.As(err, &conflict) {
		fmt.Fprintln(out, "Someone booked that slot first. Updated availability:")
		printSlots(out, conflict.Slots)
		return errors.New("slot already taken")
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Booked %s %s-%s (appointment %s, %s)\n",
		appointment.Date, slot.StartTime, slot.EndTime, appointment.ID, appointment.Status)
	return nil
}

func findSlot(days []model.DaySlots, date, start string) (model.BookableSlot, bool) {
	for _, d := range days {
		if d.Date != date {
			continue
		}
		for _, s := range d.Slots {
			if s.StartTime == start {
				return s, true
			}
		}
	}
	return model.BookableSlot{}, false
}

func printSlots(out io.Writer, days []model.DaySlots) {
	if len(days) == 0 {
		fmt.Fprintln(out, "No availability.")
		return
	}
	for _, d := range days {
		fmt.Fprintf(out, "%s\n", d.Date)
		for _, s := range d.Slots {
			fmt.Fprintf(out, "  %s-%s\n", s.StartTime, s.EndTime)
		}
	}
}
