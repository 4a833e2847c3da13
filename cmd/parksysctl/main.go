// Command parksysctl manages the parking catalog: cities, lots, and their
// pricing policies. It operates directly on the ledger's durable copy and
// must not run while parksysd is serving the same database file.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/guregu/null.v4"

	"github.com/example/parksys/internal/config"
	"github.com/example/parksys/internal/ledger"
	"github.com/example/parksys/internal/persistence/sqlite"
)

const usage = `Usage:
  parksysctl add city "City Name"
  parksysctl remove city <city_id>
  parksysctl add lot "Lot Name" <city_id> <lat> <lon> <h|d> <price> [max_daily]
  parksysctl remove lot <lot_id>
  parksysctl update lot <lot_id> price <price> [<max_daily>]
  parksysctl update lot <lot_id> type <h|d>
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	durable, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open durable copy:", err)
		os.Exit(1)
	}
	defer durable.Close()

	store, err := ledger.Open(context.Background(), durable, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to recover ledger:", err)
		os.Exit(1)
	}

	if err := run(context.Background(), store, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// errUsage signals that the arguments did not match any command form.
var errUsage = fmt.Errorf("%s", usage)

func run(ctx context.Context, store *ledger.Store, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}

	command, object := args[0], args[1]
	rest := args[2:]

	switch {
	case command == "add" && object == "city" && len(rest) == 1:
		return addCity(ctx, store, rest[0], stdout)
	case command == "remove" && object == "city" && len(rest) == 1:
		return removeCity(ctx, store, rest[0], stdin, stdout)
	case command == "add" && object == "lot" && (len(rest) == 6 || len(rest) == 7):
		return addLot(ctx, store, rest, stdout)
	case command == "remove" && object == "lot" && len(rest) == 1:
		return removeLot(ctx, store, rest[0], stdin, stdout)
	case command == "update" && object == "lot" && len(rest) >= 2:
		return updateLot(ctx, store, rest, stdout)
	default:
		return errUsage
	}
}

func addCity(ctx context.Context, store *ledger.Store, name string, stdout io.Writer) error {
	city, err := store.AddCity(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to add city (name may exist): %w", err)
	}
	fmt.Fprintf(stdout, "City added: %s (id %d)\n", city.Name, city.ID)
	return nil
}

func removeCity(ctx context.Context, store *ledger.Store, arg string, stdin io.Reader, stdout io.Writer) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return errUsage
	}

	fmt.Fprintf(stdout, "Removing a city removes all its lots. Previous logs are kept.\nRemove city %d? [y/N] ", id)
	if !confirmed(stdin) {
		return nil
	}

	if err := store.RemoveCity(ctx, id); err != nil {
		return fmt.Errorf("failed to remove city: %w", err)
	}
	fmt.Fprintln(stdout, "City removed.")
	return nil
}

func addLot(ctx context.Context, store *ledger.Store, args []string, stdout io.Writer) error {
	params, err := parseLotArgs(args)
	if err != nil {
		return err
	}

	lot, err := store.AddLot(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to add lot: %w", err)
	}
	fmt.Fprintf(stdout, "Lot added: %s (id %d)\n", lot.Name, lot.ID)
	return nil
}

// parseLotArgs parses: "Lot Name" <city_id> <lat> <lon> <h|d> <price> [max_daily]
func parseLotArgs(args []string) (ledger.LotParams, error) {
	var params ledger.LotParams
	params.Name = args[0]

	cityID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return params, errUsage
	}
	params.CityID = cityID

	if params.Latitude, err = strconv.ParseFloat(args[2], 64); err != nil {
		return params, errUsage
	}
	if params.Longitude, err = strconv.ParseFloat(args[3], 64); err != nil {
		return params, errUsage
	}

	hourly, err := parseLotType(args[4])
	if err != nil {
		return params, err
	}
	params.Hourly = hourly

	if params.Rate, err = strconv.ParseFloat(args[5], 64); err != nil {
		return params, errUsage
	}

	if len(args) == 7 {
		maxDaily, err := strconv.ParseFloat(args[6], 64)
		if err != nil {
			return params, errUsage
		}
		if maxDaily < params.Rate {
			return params, fmt.Errorf("max_daily %g is below the hourly rate %g, aborting", maxDaily, params.Rate)
		}
		params.MaxDailyRate = null.FloatFrom(maxDaily)
	}

	return params, nil
}

func removeLot(ctx context.Context, store *ledger.Store, arg string, stdin io.Reader, stdout io.Writer) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return errUsage
	}

	fmt.Fprintf(stdout, "Removing a lot won't remove previous logs.\nRemove lot %d? [y/N] ", id)
	if !confirmed(stdin) {
		return nil
	}

	if err := store.RemoveLot(ctx, id); err != nil {
		return fmt.Errorf("failed to remove lot: %w", err)
	}
	fmt.Fprintln(stdout, "Lot removed.")
	return nil
}

func updateLot(ctx context.Context, store *ledger.Store, args []string, stdout io.Writer) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errUsage
	}

	sub := args[1]
	rest := args[2:]

	switch {
	case sub == "price" && (len(rest) == 1 || len(rest) == 2):
		rate, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return errUsage
		}
		var maxDaily null.Float
		if len(rest) == 2 {
			value, err := strconv.ParseFloat(rest[1], 64)
			if err != nil {
				return errUsage
			}
			if value < rate {
				return fmt.Errorf("max_daily %g is below the hourly rate %g, aborting", value, rate)
			}
			maxDaily = null.FloatFrom(value)
		}
		if err := store.UpdateLotPrice(ctx, id, rate, maxDaily); err != nil {
			return fmt.Errorf("failed to update lot price: %w", err)
		}
		fmt.Fprintln(stdout, "Lot price updated.")
		return nil

	case sub == "type" && len(rest) == 1:
		hourly, err := parseLotType(rest[0])
		if err != nil {
			return err
		}
		if err := store.SetLotType(ctx, id, hourly); err != nil {
			return fmt.Errorf("failed to update lot type: %w", err)
		}
		fmt.Fprintln(stdout, "Lot type updated.")
		return nil

	default:
		return errUsage
	}
}

// parseLotType maps the original tool's pricing flags: h = hourly, d = daily
// flat rate.
func parseLotType(s string) (bool, error) {
	switch s {
	case "h":
		return true, nil
	case "d":
		return false, nil
	default:
		return false, errUsage
	}
}

func confirmed(stdin io.Reader) bool {
	scanner := bufio.NewScanner(stdin)
	if !scanner.Scan() {
		return false
	}
	answer := scanner.Text()
	return answer == "y" || answer == "Y"
}
