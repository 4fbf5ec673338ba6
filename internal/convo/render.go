package convo

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"

	"bankassist/internal/bank"
)

// Structured replies are pre-rendered HTML table fragments; all dynamic
// values are escaped here before interpolation.

func escape(v string) string {
	return html.EscapeString(v)
}

// formatMoney renders a decimal with two fraction digits and thousands
// separators, without a currency symbol: 4850.75 -> "4,850.75".
func formatMoney(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	intPart, fracPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	if d.Sign() < 0 {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteByte('.')
	b.WriteString(fracPart)
	return b.String()
}

func renderAccountsTable(accounts []bank.Account) string {
	var rows strings.Builder
	for _, a := range accounts {
		balCls := "text-success"
		if a.Balance.Sign() < 0 {
			balCls = "text-danger"
		}
		balStr := fmt.Sprintf("%s %s", a.Currency, formatMoney(a.Balance))
		fmt.Fprintf(&rows, "<tr><td>%s</td><td>%s</td><td class='%s'>%s</td></tr>",
			escape(a.AccountType), escape(a.AccountID), balCls, escape(balStr))
	}
	return "<div class='table-responsive'>" +
		"<table class='table table-sm table-striped table-hover align-middle chat-table'>" +
		"<thead><tr><th>Account</th><th>Account ID</th><th>Balance</th></tr></thead>" +
		"<tbody>" + rows.String() + "</tbody></table></div>"
}

func renderTransactionsTable(accountID string, txs []bank.Transaction) string {
	var rows strings.Builder
	for _, t := range txs {
		amtCls, sign := "text-success", "+"
		if t.Amount.Sign() < 0 {
			amtCls, sign = "text-danger", "-"
		}
		amtStr := fmt.Sprintf("%s$%s", sign, formatMoney(t.Amount.Abs()))
		merchant := ""
		if t.Merchant != nil {
			merchant = *t.Merchant
		}
		fmt.Fprintf(&rows, "<tr><td>%s</td><td>%s</td><td>%s</td><td class='%s text-end'>%s</td></tr>",
			escape(t.Date.Format("2006-01-02")), escape(merchant), escape(t.Description), amtCls, escape(amtStr))
	}
	return fmt.Sprintf("<div class='mb-2 small text-muted'>Recent transactions for account %s:</div>", escape(accountID)) +
		"<div class='table-responsive'>" +
		"<table class='table table-sm table-striped table-hover align-middle chat-table'>" +
		"<thead><tr><th style='min-width: 140px;'>Date</th><th style='min-width: 160px;'>Merchant</th><th>Description</th><th class='text-end' style='min-width: 120px;'>Amount</th></tr></thead>" +
		"<tbody>" + rows.String() + "</tbody></table></div>"
}

func renderReceipt(payee string, amount decimal.Decimal, fromAccountID string, receipt *bank.PaymentReceipt) string {
	return "<div class='mb-2'><strong>Payment completed</strong></div>" +
		"<div class='table-responsive'>" +
		"<table class='table table-sm table-bordered align-middle chat-table'>" +
		"<tbody>" +
		fmt.Sprintf("<tr><th>Payee</th><td>%s</td></tr>", escape(payee)) +
		fmt.Sprintf("<tr><th>Amount</th><td>$%s</td></tr>", formatMoney(amount)) +
		fmt.Sprintf("<tr><th>From Account</th><td>%s</td></tr>", escape(fromAccountID)) +
		fmt.Sprintf("<tr><th>Transaction ID</th><td>%s</td></tr>", escape(receipt.Transaction.ID)) +
		fmt.Sprintf("<tr><th>New Balance</th><td>$%s</td></tr>", formatMoney(receipt.NewBalance)) +
		"</tbody></table></div>"
}
