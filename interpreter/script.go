package interpreter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	scriptRe = regexp.MustCompile(`(?s)setTimeout\(\s*function\(\)\s*\{\s*(.*?a\.value\s*=\s*[^;]+;)`)
	keyRe    = regexp.MustCompile(` k\s*=\s*'(\S+)';`)
	assignRe = regexp.MustCompile(`(?s)a\.value\s*=\s*([^;]+);\s*$`)
	toFixed  = regexp.MustCompile(`(?s)^\((.*)\)\.toFixed\((\d+)\)$`)
)

const protocolProbe = `(setInterval(function(){}, 100),t.match(/https?:\/\//)[0]);`

// ExtractScript returns the page script up to and including the answer
// assignment.
func ExtractScript(body string) (string, error) {
	m := scriptRe.FindStringSubmatch(body)
	if len(m) < 2 {
		return "", ErrScriptNotFound
	}
	js := strings.ReplaceAll(m[1], protocolProbe, `t.match(/https?:\/\//)[0];`)
	return neutralizeAssignment(js), nil
}

// neutralizeAssignment drops the trailing "+ <expr>" term of the answer
// assignment. That term reads the hostname length from the live DOM, which the
// mock scope does not reproduce.
func neutralizeAssignment(js string) string {
	loc := assignRe.FindStringSubmatchIndex(js)
	if loc == nil {
		return js
	}
	rhs := strings.TrimSpace(js[loc[2]:loc[3]])

	var rewritten string
	if m := toFixed.FindStringSubmatch(rhs); m != nil {
		rewritten = "(" + stripTrailingTerm(m[1]) + ").toFixed(" + m[2] + ")"
	} else {
		rewritten = stripTrailingTerm(rhs)
	}
	return js[:loc[2]] + rewritten + ";"
}

// stripTrailingTerm removes the last top-level binary "+" operand.
func stripTrailingTerm(expr string) string {
	depth := 0
	cut := -1
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '+':
			if depth != 0 {
				continue
			}
			left := strings.TrimSpace(expr[:i])
			if left == "" || strings.ContainsAny(left[len(left)-1:], "+-*/(!,=") {
				continue
			}
			cut = i
		}
	}
	if cut < 0 {
		return expr
	}
	return strings.TrimSpace(expr[:cut])
}

// subVariables collects the hidden <div id="{k}{n}"> expressions the script
// reads through document.getElementById.
func subVariables(body string) (string, error) {
	m := keyRe.FindStringSubmatch(body)
	if len(m) < 2 {
		return "", nil
	}
	k := regexp.QuoteMeta(m[1])
	divRe, err := regexp.Compile(`<div(?:\s+style="display:none;visibility:hidden;")?\s+id="` + k + `(\d+)">\s*([^<>]*)</div>`)
	if err != nil {
		return "", err
	}

	var entries []string
	for _, d := range divRe.FindAllStringSubmatch(body, -1) {
		expr := strings.TrimSpace(d[2])
		if expr == "" {
			continue
		}
		entries = append(entries, fmt.Sprintf("%s: %s", strconv.Quote(m[1]+d[1]), expr))
	}
	return strings.Join(entries, ","), nil
}

// Template builds the self-contained program evaluated by an engine: a minimal
// document/window scope followed by the extracted page script. The program's
// completion value is the answer.
func Template(body, domain string) (string, error) {
	js, err := ExtractScript(body)
	if err != nil {
		return "", err
	}
	subVars, err := subVariables(body)
	if err != nil {
		return "", err
	}

	href := strconv.Quote("https://" + domain + "/")
	host := strconv.Quote(domain)

	var sb strings.Builder
	sb.WriteString(`String.prototype.italics=function(str){return "<i>"+this+"</i>";};`)
	sb.WriteString(`var subVars={` + subVars + `};`)
	sb.WriteString(`var __elements={};`)
	sb.WriteString(`var document={` +
		`createElement:function(){return {firstChild:{href:` + href + `}};},` +
		`getElementById:function(id){` +
		`if(Object.prototype.hasOwnProperty.call(subVars,id)){return {innerHTML:subVars[id]};}` +
		`if(!__elements[id]){__elements[id]={id:id,value:"",innerHTML:"",style:{},action:"",submit:function(){}};}` +
		`return __elements[id];}};`)
	sb.WriteString(`var location={href:` + href + `,hostname:` + host + `,host:` + host + `,protocol:"https:"};`)
	sb.WriteString(`var window={document:document,location:location};`)
	sb.WriteString(js)
	return sb.String(), nil
}
