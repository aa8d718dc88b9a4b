package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartAddRemoveTotal(t *testing.T) {
	cart := NewCart("acc-1", nil)

	widget := cart.AddLine("Widget", decimal.NewFromInt(10))
	cart.AddLine("Gadget", decimal.NewFromInt(25))

	require.Equal(t, 2, cart.Len())
	assert.True(t, cart.Total().Equal(decimal.NewFromInt(35)))
	assert.NotEmpty(t, widget.ID)
	assert.Equal(t, AccountID("acc-1"), widget.AccountID)

	assert.True(t, cart.RemoveLine(widget.ID))
	assert.True(t, cart.Total().Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "Gadget", cart.Lines()[0].Name)
}

func TestCartRemoveMissingLineIsNoop(t *testing.T) {
	cart := NewCart("acc-1", nil)
	cart.AddLine("Widget", decimal.NewFromInt(10))

	assert.False(t, cart.RemoveLine("does-not-exist"))
	assert.Equal(t, 1, cart.Len())

	empty := NewCart("acc-1", nil)
	empty.Clear()
	assert.Equal(t, 0, empty.Len())
	assert.True(t, empty.Total().IsZero())
}

func TestCartProductLineCapturesID(t *testing.T) {
	cart := NewCart("acc-1", nil)
	line := cart.AddProductLine(&Product{ID: "p-1", Name: "Widget", Price: decimal.RequireFromString("9.90")})

	assert.Equal(t, "p-1", line.ProductID)
	assert.Equal(t, "Widget", line.Name)
	assert.True(t, cart.Total().Equal(decimal.RequireFromString("9.90")))
}

func TestCartLinesReturnsCopy(t *testing.T) {
	cart := NewCart("acc-1", []CartLine{{ID: "l1", Name: "A", Price: decimal.NewFromInt(1)}})
	lines := cart.Lines()
	lines[0].Name = "changed"

	assert.Equal(t, "A", cart.Lines()[0].Name)
}

func TestPaymentValidation(t *testing.T) {
	assert.True(t, PaymentCash.Valid())
	assert.True(t, PaymentDebit.Valid())
	assert.True(t, PaymentCredit.Valid())
	assert.False(t, PaymentMethod("bitcoin").Valid())
	assert.False(t, PaymentMethod("").Valid())

	for _, n := range []string{"3", "6", "12"} {
		assert.True(t, ValidInstallments(n), n)
	}
	assert.False(t, ValidInstallments(""))
	assert.False(t, ValidInstallments("24"))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "account/a1/products/p1", ProductPath("a1", "p1"))
	assert.Equal(t, "account/a1/sales/pending/l1", PendingLinePath("a1", "l1"))
	assert.Equal(t, "account/a1/sales/final/s1", FinalSalePath("a1", "s1"))
}
