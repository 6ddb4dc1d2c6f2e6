package ontraport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ResolveContact finds the Contact with the customer's email, creating it
// from the full billing details when absent.
func (c *Client) ResolveContact(ctx context.Context, customer Customer) (int64, error) {
	return c.Resolve(ctx, KindContact, customer.Email, contactAttrs(customer))
}

// ResolveProduct finds the Product with the given name, creating it with the
// given price when absent.
func (c *Client) ResolveProduct(ctx context.Context, name string, price float64) (int64, error) {
	attrs := url.Values{}
	attrs.Set("name", name)
	attrs.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	return c.Resolve(ctx, KindProduct, name, attrs)
}

// ResolveTag finds the Tag with the given name, creating it when absent.
// Tags are always scoped to Contact records.
func (c *Client) ResolveTag(ctx context.Context, name string) (int64, error) {
	attrs := url.Values{}
	attrs.Set("object_type_id", strconv.Itoa(contactTypeCode))
	attrs.Set("tag_name", name)
	return c.Resolve(ctx, KindTag, name, attrs)
}

// LogTransaction records a completed purchase against the customer's
// Contact, creating the Product and Contact first if they do not exist.
// The product must be resolved before the transaction call; the resulting
// identifiers, never the natural keys, go into the transaction body.
func (c *Client) LogTransaction(ctx context.Context, customer Customer, purchase Purchase) error {
	productID, err := c.ResolveProduct(ctx, purchase.Product, purchase.Price)
	if err != nil {
		return fmt.Errorf("resolving product: %w", err)
	}

	contactID, err := c.ResolveContact(ctx, customer)
	if err != nil {
		return fmt.Errorf("resolving contact: %w", err)
	}

	params := url.Values{}
	params.Set("contact_id", strconv.FormatInt(contactID, 10))
	params.Set("chargeNow", "chargeLog")
	params.Set("offer[products][0][quantity]", strconv.Itoa(purchase.Quantity))
	params.Set("offer[products][0][id]", strconv.FormatInt(productID, 10))

	if _, err := c.Request(ctx, http.MethodPost, "transaction/processManual", params); err != nil {
		return fmt.Errorf("logging transaction for contact %d: %w", contactID, err)
	}
	return nil
}

// TagContact associates the named tag with the customer's Contact, creating
// the Contact and the Tag first if they do not exist. There is no rollback
// if the association fails after a create succeeded: the created records
// persist and the next invocation finds them by natural key.
func (c *Client) TagContact(ctx context.Context, customer Customer, tagName string) error {
	contactID, err := c.ResolveContact(ctx, customer)
	if err != nil {
		return fmt.Errorf("resolving contact: %w", err)
	}

	tagID, err := c.ResolveTag(ctx, tagName)
	if err != nil {
		return fmt.Errorf("resolving tag: %w", err)
	}

	params := url.Values{}
	params.Set("objectID", strconv.Itoa(contactTypeCode))
	params.Set("add_list", strconv.FormatInt(tagID, 10))
	params.Set("ids", strconv.FormatInt(contactID, 10))

	if _, err := c.Request(ctx, http.MethodPut, "objects/tag", params); err != nil {
		return fmt.Errorf("tagging contact %d with tag %d: %w", contactID, tagID, err)
	}
	return nil
}

// ValidateKeys probes the API with a one-record Contact fetch and reports
// whether the configured credentials are accepted. Rejected or garbled
// responses yield false with a nil error; only a transport fault is an
// error, so the caller can tell "bad keys" from "no connectivity".
func (c *Client) ValidateKeys(ctx context.Context) (bool, error) {
	params := url.Values{}
	params.Set("objectID", strconv.Itoa(contactTypeCode))
	params.Set("range", "1")

	_, err := c.Request(ctx, http.MethodGet, "objects", params)
	if err == nil {
		return true, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) || errors.Is(err, ErrDecode) {
		return false, nil
	}
	return false, err
}

func contactAttrs(c Customer) url.Values {
	attrs := url.Values{}
	attrs.Set("firstname", c.FirstName)
	attrs.Set("lastname", c.LastName)
	attrs.Set("email", c.Email)
	attrs.Set("cell_phone", c.Phone)
	attrs.Set("address", c.Address1)
	attrs.Set("address2", c.Address2)
	attrs.Set("city", c.City)
	attrs.Set("state", c.State)
	attrs.Set("zip", c.Postcode)
	attrs.Set("country", c.Country)
	return attrs
}
