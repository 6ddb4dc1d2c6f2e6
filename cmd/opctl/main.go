// opctl drives the Ontraport adapter from the command line: credential
// validation, transaction logging, and contact tagging.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/vcto/ontraport-adapter/internal/ontraport"
	"github.com/vcto/ontraport-adapter/internal/trace"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// fileConfig is the on-disk YAML shape. Environment variables override it.
type fileConfig struct {
	AppID       string `yaml:"app_id"`
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	TagContacts string `yaml:"tag_contacts"` // optional tag applied after every logged transaction
	Trace       bool   `yaml:"trace"`
	TracePath   string `yaml:"trace_path"`
}

type rootOptions struct {
	configPath string
	cfg        fileConfig
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "opctl",
		Short:         "Ontraport CRM adapter CLI",
		Long:          "Resolve contacts, products and tags against Ontraport and record transactions.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config file")

	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newLogTransactionCommand(opts))
	cmd.AddCommand(newTagCommand(opts))

	return cmd
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig

	if path == "" {
		if _, err := os.Stat("opctl.yaml"); err == nil {
			path = "opctl.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if v := os.Getenv("ONTRAPORT_APP_ID"); v != "" {
		cfg.AppID = v
	}
	if v := os.Getenv("ONTRAPORT_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("ONTRAPORT_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	return cfg, nil
}

func newClient(cfg fileConfig) (*ontraport.Client, error) {
	client, err := ontraport.NewClient(ontraport.Config{
		AppID:   cfg.AppID,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Trace {
		recorder, err := trace.Open(trace.Config{
			Enabled:   true,
			Path:      cfg.TracePath,
			MaxFileMB: 100,
		})
		if err != nil {
			log.Printf("Warning: trace recorder unavailable: %v", err)
		} else {
			client.SetRecorder(recorder)
		}
	}
	return client, nil
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configured API credentials against Ontraport",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(opts.cfg)
			if err != nil {
				return err
			}

			valid, err := client.ValidateKeys(cmd.Context())
			if err != nil {
				return fmt.Errorf("could not reach Ontraport: %w", err)
			}
			if !valid {
				return fmt.Errorf("app id and api key were rejected")
			}

			fmt.Println("credentials OK")
			return nil
		},
	}
}

// customerFlags binds the billing-detail flags shared by log-transaction
// and tag.
type customerFlags struct {
	customerFile string
	customer     ontraport.Customer
}

func (cf *customerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cf.customerFile, "customer-file", "", "JSON file with customer billing details")
	cmd.Flags().StringVar(&cf.customer.Email, "email", "", "customer email address")
	cmd.Flags().StringVar(&cf.customer.FirstName, "firstname", "", "customer first name")
	cmd.Flags().StringVar(&cf.customer.LastName, "lastname", "", "customer last name")
	cmd.Flags().StringVar(&cf.customer.Phone, "phone", "", "customer phone number")
	cmd.Flags().StringVar(&cf.customer.Address1, "address1", "", "billing address line 1")
	cmd.Flags().StringVar(&cf.customer.Address2, "address2", "", "billing address line 2")
	cmd.Flags().StringVar(&cf.customer.City, "city", "", "billing city")
	cmd.Flags().StringVar(&cf.customer.State, "state", "", "billing state/province")
	cmd.Flags().StringVar(&cf.customer.Postcode, "postcode", "", "billing postal code")
	cmd.Flags().StringVar(&cf.customer.Country, "country", "", "billing country")
}

func (cf *customerFlags) resolve() (ontraport.Customer, error) {
	customer := cf.customer
	if cf.customerFile != "" {
		data, err := os.ReadFile(cf.customerFile)
		if err != nil {
			return customer, fmt.Errorf("reading customer file: %w", err)
		}
		if err := json.Unmarshal(data, &customer); err != nil {
			return customer, fmt.Errorf("parsing customer file: %w", err)
		}
	}
	if customer.Email == "" {
		return customer, fmt.Errorf("customer email is required")
	}
	return customer, nil
}

func newLogTransactionCommand(opts *rootOptions) *cobra.Command {
	cf := &customerFlags{}
	var purchase ontraport.Purchase
	var tag string

	cmd := &cobra.Command{
		Use:   "log-transaction",
		Short: "Record a purchase, creating the Product and Contact if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			customer, err := cf.resolve()
			if err != nil {
				return err
			}
			if purchase.Product == "" {
				return fmt.Errorf("product name is required")
			}
			if purchase.Quantity <= 0 {
				purchase.Quantity = 1
			}

			client, err := newClient(opts.cfg)
			if err != nil {
				return err
			}

			if err := client.LogTransaction(cmd.Context(), customer, purchase); err != nil {
				return err
			}
			fmt.Printf("logged %dx %q for %s\n", purchase.Quantity, purchase.Product, customer.Email)

			// Mirror the checkout flow: optionally tag the contact after a
			// successful transaction.
			if tag == "" {
				tag = opts.cfg.TagContacts
			}
			if tag != "" {
				if err := client.TagContact(cmd.Context(), customer, tag); err != nil {
					return fmt.Errorf("transaction logged but tagging failed: %w", err)
				}
				fmt.Printf("tagged %s with %q\n", customer.Email, tag)
			}
			return nil
		},
	}

	cf.register(cmd)
	cmd.Flags().StringVar(&purchase.Product, "product", "", "product display name")
	cmd.Flags().Float64Var(&purchase.Price, "price", 0, "unit price")
	cmd.Flags().IntVar(&purchase.Quantity, "quantity", 1, "quantity purchased")
	cmd.Flags().Float64Var(&purchase.Total, "total", 0, "order total")
	cmd.Flags().StringVar(&tag, "tag", "", "tag to apply after logging (defaults to tag_contacts from config)")

	return cmd
}

func newTagCommand(opts *rootOptions) *cobra.Command {
	cf := &customerFlags{}
	var tag string

	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Apply a tag to a customer's Contact, creating both if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			customer, err := cf.resolve()
			if err != nil {
				return err
			}
			if tag == "" {
				return fmt.Errorf("tag name is required")
			}

			client, err := newClient(opts.cfg)
			if err != nil {
				return err
			}

			if err := client.TagContact(cmd.Context(), customer, tag); err != nil {
				return err
			}
			fmt.Printf("tagged %s with %q\n", customer.Email, tag)
			return nil
		},
	}

	cf.register(cmd)
	cmd.Flags().StringVar(&tag, "tag", "", "tag name to apply")

	return cmd
}
