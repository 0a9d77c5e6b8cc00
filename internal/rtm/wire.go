package rtm

import (
	"encoding/xml"
	stderrors "errors"
)

// rsp is the provider's <rsp> envelope. Only the elements this client
// uses are mapped; on tasks.getList the payload nests under <tasks>.
type rsp struct {
	XMLName  xml.Name  `xml:"rsp"`
	Stat     string    `xml:"stat,attr"`
	Err      *rspErr   `xml:"err"`
	Frob     string    `xml:"frob"`
	Timeline string    `xml:"timeline"`
	Auth     *rspAuth  `xml:"auth"`
	List     *rspList  `xml:"list"`
	Tasks    *rspTasks `xml:"tasks"`
}

type rspErr struct {
	Code string `xml:"code,attr"`
	Msg  string `xml:"msg,attr"`
}

type rspAuth struct {
	Token string  `xml:"token"`
	Perms string  `xml:"perms"`
	User  rspUser `xml:"user"`
}

type rspUser struct {
	ID       string `xml:"id,attr"`
	Username string `xml:"username,attr"`
}

type rspTasks struct {
	Lists []rspList `xml:"list"`
}

type rspList struct {
	ID     string      `xml:"id,attr"`
	Series []rspSeries `xml:"taskseries"`
}

type rspSeries struct {
	ID      string    `xml:"id,attr"`
	Name    string    `xml:"name,attr"`
	Created string    `xml:"created,attr"`
	TagList rspTags   `xml:"tags"`
	Tasks   []rspTask `xml:"task"`
}

type rspTags struct {
	Tags []string `xml:"tag"`
}

type rspTask struct {
	ID        string `xml:"id,attr"`
	Completed string `xml:"completed,attr"`
	Due       string `xml:"due,attr"`
}

func asAPIError(err error, target **APIError) bool {
	return stderrors.As(err, target)
}
