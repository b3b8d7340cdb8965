package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-trust/internal/provider"
	"github.com/sells-group/provider-trust/pkg/geocode"
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Inspect stored providers",
}

var providerGetCmd = &cobra.Command{
	Use:   "get <npi>",
	Short: "Show a stored provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := provider.NewService(st).Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "provider get")
		}
		return writeOutput(os.Stdout, outputFormat, p)
	},
}

var providerVerifyCmd = &cobra.Command{
	Use:   "verify <npi>",
	Short: "Recompute a provider's integrity hash from its stored record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		check, err := provider.NewService(st).Verify(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "provider verify")
		}
		if err := writeOutput(os.Stdout, outputFormat, check); err != nil {
			return err
		}
		if !check.Valid {
			return eris.Errorf("integrity mismatch for %s", check.NPINumber)
		}
		return nil
	},
}

// location compares a provider's stored address with the address nearest
// its stored coordinates.
type location struct {
	NPINumber string                 `json:"npi_number"`
	Latitude  float64                `json:"latitude"`
	Longitude float64                `json:"longitude"`
	Stored    string                 `json:"stored_address"`
	Nearest   *geocode.ReverseResult `json:"nearest,omitempty"`
}

var providerLocateCmd = &cobra.Command{
	Use:   "locate <npi>",
	Short: "Reverse geocode a provider's stored coordinates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		loc, err := locateProvider(ctx, env.Providers, env.Geocoder, args[0])
		if err != nil {
			return err
		}
		return writeOutput(os.Stdout, outputFormat, loc)
	},
}

func locateProvider(ctx context.Context, svc *provider.Service, gc geocode.Client, npiNumber string) (*location, error) {
	p, err := svc.Get(ctx, npiNumber)
	if err != nil {
		return nil, eris.Wrap(err, "provider locate")
	}
	if !p.HasCoordinates() {
		return nil, eris.Errorf("provider %s has no stored coordinates", npiNumber)
	}

	nearest, err := gc.ReverseGeocode(ctx, *p.Latitude, *p.Longitude)
	if err != nil {
		return nil, eris.Wrap(err, "provider locate")
	}
	return &location{
		NPINumber: p.NPINumber,
		Latitude:  *p.Latitude,
		Longitude: *p.Longitude,
		Stored: geocode.AddressInput{
			Street:  p.AddressLine1,
			City:    p.City,
			State:   p.State,
			ZipCode: p.PostalCode,
			Country: p.Country,
		}.Query(),
		Nearest: nearest,
	}, nil
}

func init() {
	providerCmd.AddCommand(providerGetCmd)
	providerCmd.AddCommand(providerVerifyCmd)
	providerCmd.AddCommand(providerLocateCmd)
	rootCmd.AddCommand(providerCmd)
}
