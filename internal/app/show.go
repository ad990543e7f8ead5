package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent yield samples and ledger events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, err := store.ListRecentSamples(ctx, opts.SampleLimit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tTotalAssets\tPrincipal\tAvailableYield\tAllocated\tStatus\tError")

		for _, sample := range samples {
			errMsg := ""
			if sample.Error != nil {
				errMsg = sanitizeInline(*sample.Error)
			}
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				sample.Bucket.UTC().Format(time.RFC3339),
				sample.TotalAssets.String(),
				sample.TotalPrincipal.String(),
				sample.AvailableYield.String(),
				sample.AllocatedSubsidy.String(),
				sample.Status,
				errMsg,
			)
		}
		writer.Flush()
	}

	if opts.EventLimit <= 0 {
		return nil
	}

	events, err := store.ListRecentEvents(ctx, opts.EventLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no events found")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tCaller\tOwner\tAssets\tShares\tReservation")
	for _, ev := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.At.UTC().Format(time.RFC3339),
			ev.Kind,
			shortAddress(ev.Caller),
			shortAddress(ev.Owner),
			bigString(ev.Assets),
			bigString(ev.Shares),
			bigString(ev.Reservation),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func shortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
