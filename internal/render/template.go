// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// invoiceTemplate is the fixed invoice page. Placeholders use the [[TOKEN]]
// form so they can never collide with literal HTML.
const invoiceTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Invoice [[INVOICE_NUMBER]]</title>
<style>
  body { font-family: Helvetica, Arial, sans-serif; margin: 48px; color: #222; }
  h1 { font-size: 22px; letter-spacing: 1px; }
  .meta { margin: 24px 0; }
  .meta div { margin: 4px 0; }
  table { width: 100%; border-collapse: collapse; margin-top: 24px; }
  th, td { border-bottom: 1px solid #ccc; padding: 8px 6px; text-align: left; }
  td.num, th.num { text-align: right; }
  .total { font-weight: bold; }
  .words { margin-top: 12px; font-style: italic; }
  .notes { margin-top: 32px; font-size: 12px; color: #555; }
</style>
</head>
<body>
  <h1>[[SELLER_NAME]] — INVOICE</h1>
  <div class="meta">
    <div>Invoice number: <strong>[[INVOICE_NUMBER]]</strong></div>
    <div>Invoice date: [[INVOICE_DATE]]</div>
    <div>Due date: [[DUE_DATE]]</div>
    <div>Billed to: [[RECIPIENT_NAME]]</div>
    <div>[[RECIPIENT_ADDRESS]]</div>
  </div>
  <table>
    <thead>
      <tr><th>Description</th><th class="num">Qty</th><th class="num">Unit price</th><th class="num">Amount</th></tr>
    </thead>
    <tbody>
[[LINE_ITEMS]]
    </tbody>
    <tfoot>
      <tr class="total"><td colspan="3">Total ([[CURRENCY]])</td><td class="num">[[TOTAL]]</td></tr>
    </tfoot>
  </table>
  <div class="words">Amount in words: [[TOTAL_WORDS]]</div>
  <div class="notes">[[NOTES]]</div>
</body>
</html>`

// formatAmount renders an amount with thousands separators and two decimals
// when the amount is fractional. Rounding happens once, in cents, so a
// fraction that rounds up carries into the whole part and the figure always
// agrees with the words line.
func formatAmount(amount float64) string {
	neg := amount < 0
	cents := int64(math.Round(math.Abs(amount) * 100))

	out := groupThousands(cents / 100)
	if frac := cents % 100; frac > 0 {
		out += fmt.Sprintf(".%02d", frac)
	}
	if neg {
		out = "-" + out
	}
	return out
}

// formatQuantity drops the decimals for whole quantities.
func formatQuantity(q float64) string {
	if q == math.Trunc(q) {
		return strconv.FormatInt(int64(q), 10)
	}
	return strconv.FormatFloat(q, 'f', 2, 64)
}

// groupThousands inserts comma separators into a non-negative integer.
func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		sb.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

var (
	onesWords = []string{"Zero", "One", "Two", "Three", "Four", "Five", "Six",
		"Seven", "Eight", "Nine", "Ten", "Eleven", "Twelve", "Thirteen",
		"Fourteen", "Fifteen", "Sixteen", "Seventeen", "Eighteen", "Nineteen"}
	tensWords = []string{"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty",
		"Seventy", "Eighty", "Ninety"}
	scaleWords = []string{"", " Thousand", " Million", " Billion"}
)

// amountInWords converts an amount to English words for the invoice's
// "amount in words" line. Fractional cents are appended as NN/100.
func amountInWords(amount float64) string {
	neg := amount < 0
	amount = math.Abs(amount)

	whole := int64(amount)
	cents := int64(math.Round((amount - float64(whole)) * 100))
	if cents == 100 {
		whole++
		cents = 0
	}

	words := intInWords(whole)
	if cents > 0 {
		words += fmt.Sprintf(" and %02d/100", cents)
	}
	words += " Only"
	if neg {
		words = "Minus " + words
	}
	return words
}

// maxSpellable is the first value beyond the scale table. Amounts past the
// billions fall back to digits rather than silently dropping high groups.
const maxSpellable = 1_000_000_000_000

// intInWords spells out a non-negative integer up to the billions.
func intInWords(n int64) string {
	if n == 0 {
		return onesWords[0]
	}
	if n >= maxSpellable {
		return groupThousands(n)
	}

	var groups []string
	for scale := 0; n > 0 && scale < len(scaleWords); scale++ {
		group := n % 1000
		n /= 1000
		if group == 0 {
			continue
		}
		groups = append([]string{hundredsInWords(group) + scaleWords[scale]}, groups...)
	}
	return strings.Join(groups, " ")
}

// hundredsInWords spells out 1..999.
func hundredsInWords(n int64) string {
	var parts []string
	if n >= 100 {
		parts = append(parts, onesWords[n/100]+" Hundred")
		n %= 100
	}
	switch {
	case n >= 20:
		tens := tensWords[n/10]
		if n%10 > 0 {
			tens += "-" + onesWords[n%10]
		}
		parts = append(parts, tens)
	case n > 0:
		parts = append(parts, onesWords[n])
	}
	return strings.Join(parts, " ")
}
