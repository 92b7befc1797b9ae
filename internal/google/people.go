package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alexjbarnes/pairchat/internal/chat"
	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/alexjbarnes/pairchat/internal/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	people "google.golang.org/api/people/v1"
)

// peopleReadMask is the set of person fields a lookup needs.
const peopleReadMask = "names,photos,emailAddresses"

// peopleService builds a People API service that sends token on every
// request.
func (p *Provider) peopleService(ctx context.Context, token string) (*people.Service, error) {
	hc := *p.httpClient
	hc.Transport = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		Base:   p.httpClient.Transport,
	}

	opts := []option.ClientOption{option.WithHTTPClient(&hc)}
	if p.cfg.PeopleURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimSuffix(p.cfg.PeopleURL, "/")+"/"))
	}

	svc, err := people.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating people service: %w", err)
	}

	return svc, nil
}

// LookupProfile searches the user's contacts for email and returns the
// matching display data. The bool is false when no contact matches.
func (p *Provider) LookupProfile(ctx context.Context, token, email string) (models.PeerProfile, bool, error) {
	svc, err := p.peopleService(ctx, token)
	if err != nil {
		return models.PeerProfile{}, false, err
	}

	resp, err := svc.People.SearchContacts().
		Query(email).
		ReadMask(peopleReadMask).
		Context(ctx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if !errors.As(err, &gerr) {
			return models.PeerProfile{}, false, fmt.Errorf("%w: searching contacts: %w", apperrors.ErrAPIRequest, err)
		}

		switch gerr.Code {
		case http.StatusUnauthorized:
			return models.PeerProfile{}, false, fmt.Errorf("%w: searching contacts", apperrors.ErrUnauthorized)
		case http.StatusForbidden:
			return models.PeerProfile{}, false, fmt.Errorf("%w: searching contacts", apperrors.ErrScopeMissing)
		default:
			return models.PeerProfile{}, false, fmt.Errorf("%w: searching contacts: status %d", apperrors.ErrAPIResponse, gerr.Code)
		}
	}

	want := chat.NormalizeID(email)

	for _, res := range resp.Results {
		if res == nil || res.Person == nil {
			continue
		}

		if !hasEmail(res.Person, want) {
			continue
		}

		return profileOf(res.Person), true, nil
	}

	return models.PeerProfile{}, false, nil
}

func hasEmail(person *people.Person, want string) bool {
	for _, addr := range person.EmailAddresses {
		if addr != nil && chat.NormalizeID(addr.Value) == want {
			return true
		}
	}

	return false
}

func profileOf(person *people.Person) models.PeerProfile {
	var prof models.PeerProfile

	if len(person.Names) > 0 && person.Names[0] != nil {
		prof.DisplayName = person.Names[0].DisplayName
	}

	if len(person.Photos) > 0 && person.Photos[0] != nil {
		prof.AvatarURL = person.Photos[0].Url
	}

	return prof
}
