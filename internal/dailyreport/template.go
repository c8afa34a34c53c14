package dailyreport

// TemplateFilename is the download name of Template. TEMPLATE must be
// replaced with the report date before the file is uploaded.
const TemplateFilename = "Day_report_TEMPLATE.txt"

var template = []byte(`project-a;namespace-a;3.5;16106127360
project-a;namespace-b;2.1;9663676416
project-b;namespace-c;5.0;21474836480
`)

// Template returns an example report in the accepted line format.
func Template() []byte {
	out := make([]byte, len(template))
	copy(out, template)
	return out
}
