package share_test

import (
	"errors"
	"testing"
	"time"

	"github.com/unipanel/backend/core"
	"github.com/unipanel/backend/core/schema"
	"github.com/unipanel/backend/core/share"
)

var (
	now       = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	yesterday = now.Add(-24 * time.Hour)
	tomorrow  = now.Add(24 * time.Hour)
)

var allOperations = []core.Operation{
	core.OperationView,
	core.OperationInsert,
	core.OperationUpdate,
	core.OperationDelete,
	core.OperationModifySchema,
}

func TestStatusOf(t *testing.T) {
	if st := share.StatusOf(true, nil, now); st != share.StatusActive {
		t.Fatalf("expected active, got %s", st)
	}
	if st := share.StatusOf(true, &tomorrow, now); st != share.StatusActive {
		t.Fatalf("expected active, got %s", st)
	}
	if st := share.StatusOf(false, nil, now); st != share.StatusRevoked {
		t.Fatalf("expected revoked, got %s", st)
	}
	// expiry dominates the active flag
	if st := share.StatusOf(true, &yesterday, now); st != share.StatusExpired {
		t.Fatalf("expected expired, got %s", st)
	}
	if st := share.StatusOf(false, &yesterday, now); st != share.StatusExpired {
		t.Fatalf("expected expired, got %s", st)
	}
}

func TestCheckStatus(t *testing.T) {
	if err := share.CheckStatus(share.StatusActive); err != nil {
		t.Fatalf("active status must pass, got %v", err)
	}
	if err := share.CheckStatus(share.StatusExpired); !errors.Is(err, share.ErrLinkExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if err := share.CheckStatus(share.StatusRevoked); !errors.Is(err, share.ErrLinkRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestAuthorizeExpiredBeforePermissions(t *testing.T) {
	// a link with all permissions but past expiry denies everything
	all := share.Permissions{CanView: true, CanInsert: true, CanUpdate: true, CanDelete: true, CanModifySchema: true}
	for _, op := range allOperations {
		err := share.Authorize(all, op, share.StatusExpired)
		if !errors.Is(err, share.ErrAccessDenied) {
			t.Fatalf("operation %s: expected access denied, got %v", op, err)
		}
		if !errors.Is(err, share.ErrLinkExpired) {
			t.Fatalf("operation %s: expected the internal reason to be expiry, got %v", op, err)
		}
	}
}

func TestAuthorizeRevokedSharesErrorClassWithExpired(t *testing.T) {
	err := share.Authorize(share.Permissions{CanView: true}, core.OperationView, share.StatusRevoked)
	if !errors.Is(err, share.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if !errors.Is(err, share.ErrLinkRevoked) || errors.Is(err, share.ErrLinkExpired) {
		t.Fatalf("expected the internal reason to be revocation, got %v", err)
	}
}

func TestAuthorizePermissionMatrix(t *testing.T) {
	cases := []struct {
		permissions share.Permissions
		allowed     core.Operation
	}{
		{share.Permissions{CanView: true}, core.OperationView},
		{share.Permissions{CanInsert: true}, core.OperationInsert},
		{share.Permissions{CanUpdate: true}, core.OperationUpdate},
		{share.Permissions{CanDelete: true}, core.OperationDelete},
		{share.Permissions{CanModifySchema: true}, core.OperationModifySchema},
	}

	for _, c := range cases {
		for _, op := range allOperations {
			err := share.Authorize(c.permissions, op, share.StatusActive)
			if op == c.allowed && err != nil {
				t.Errorf("operation %s should be allowed: %v", op, err)
			}
			if op != c.allowed && !errors.Is(err, share.ErrPermissionDenied) {
				t.Errorf("operation %s should be denied, got %v", op, err)
			}
		}
	}
}

func TestFormFields(t *testing.T) {
	s := schema.Schema{
		"name": {
			Type:     schema.TypeString,
			Required: true,
			FormType: schema.FormText,
			Stats:    &schema.FieldStats{Examples: []string{"Ada", "Grace"}},
		},
		"age": {
			Type:     schema.TypeNumber,
			FormType: schema.FormNumber,
		},
		"contact_email": {
			Type:     schema.TypeString,
			FormType: schema.FormEmail,
		},
	}

	fields, err := share.FormFields(s, share.Permissions{CanInsert: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(fields))
	}

	// ordered by name for deterministic rendering
	if fields[0].Name != "age" || fields[1].Name != "contact_email" || fields[2].Name != "name" {
		t.Fatalf("unexpected order: %+v", fields)
	}
	if fields[1].Label != "Contact Email" {
		t.Fatalf("unexpected label: %s", fields[1].Label)
	}
	if fields[2].Placeholder != "Ada" {
		t.Fatalf("expected first example as placeholder, got %q", fields[2].Placeholder)
	}
	if !fields[2].Required || fields[0].Required {
		t.Fatalf("required flags not carried over: %+v", fields)
	}
}

func TestFormFieldsRequireInsertPermission(t *testing.T) {
	_, err := share.FormFields(schema.Schema{}, share.Permissions{CanView: true})
	if !errors.Is(err, share.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestFormFieldsSkipIdentity(t *testing.T) {
	s := schema.Schema{
		schema.IdentityField: {Type: schema.TypeString, FormType: schema.FormText},
		"name":               {Type: schema.TypeString, FormType: schema.FormText},
	}
	fields, err := share.FormFields(s, share.Permissions{CanInsert: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 1 || fields[0].Name != "name" {
		t.Fatalf("identity field must not be rendered: %+v", fields)
	}
}
